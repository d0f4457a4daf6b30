package session

import (
	"errors"
	"time"

	"readalonggo/internal/store/meetingstore"
)

// Conn is the transport-side view of one connected participant. The ws
// gateway implements it; tests substitute fakes.
type Conn interface {
	ID() string
	UserID() string
	Send(event string, body any) error
	Close(reason string)
}

// Broadcast event names pushed to clients.
const (
	EventParticipants = "session/participants"
	EventPlayback     = "session/playback"
	EventReading      = "session/reading"
	EventChat         = "session/chat"
	EventEnded        = "session/ended"
)

// PlaybackState is the authoritative play/pause/position value of a room.
// Updates replace it wholesale (last-write-wins); a lost update self-heals
// on the next control action.
type PlaybackState struct {
	IsPlaying   bool      `json:"is_playing"`
	CurrentTime float64   `json:"current_time"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReadingPosition mirrors the text alongside the audio.
type ReadingPosition struct {
	Page      int `json:"page"`
	Paragraph int `json:"paragraph"`
}

type PresenceBody struct {
	MeetingID    string                     `json:"meeting_id"`
	Participants []meetingstore.DisplayInfo `json:"participants"`
}

type ChatBody struct {
	MeetingID string                   `json:"meeting_id"`
	Sender    meetingstore.DisplayInfo `json:"sender"`
	Text      string                   `json:"text"`
	SentAt    time.Time                `json:"sent_at"`
}

type EndedBody struct {
	MeetingID string `json:"meeting_id"`
}

var (
	ErrUnauthorized = errors.New("not an authorized participant")
	ErrNotFound     = errors.New("room not found")
	ErrForbidden    = errors.New("not allowed")
	ErrPersistence  = errors.New("persistence failure")
	ErrInvalidState = errors.New("meeting is not active")
)
