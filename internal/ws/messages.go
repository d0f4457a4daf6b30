package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "session/join"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// JoinRoomRequest is the body for "session/join".
type JoinRoomRequest struct {
	MeetingID string `json:"meeting_id" validate:"required"`
}

// ControlRequest is the body for "session/control".
type ControlRequest struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time" validate:"gte=0"`
}

// ReadingRequest is the body for "session/reading".
type ReadingRequest struct {
	Page      int `json:"page"      validate:"gte=1"`
	Paragraph int `json:"paragraph" validate:"gte=1"`
}

// ChatRequest is the body for "session/chat".
type ChatRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// LeaveRequest and EndRequest carry no fields.
type LeaveRequest struct{}
type EndRequest struct{}

// Empty ACK body (useful for many handlers).
type AckBody struct{}

// ErrorBody carries a machine-readable reason code.
type ErrorBody struct {
	Error string `json:"error"`
}
