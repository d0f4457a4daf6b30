package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"readalonggo/internal/store/meetingstore"
)

// disconnectTimeout bounds the store round-trips done on behalf of a
// connection that is already gone.
const disconnectTimeout = 2 * time.Second

type ISessionService interface {
	Join(ctx context.Context, conn Conn, meetingID string) error
	Leave(ctx context.Context, conn Conn) error
	Disconnect(conn Conn)
	ApplyControl(ctx context.Context, conn Conn, state PlaybackState) error
	ApplyReading(ctx context.Context, conn Conn, pos ReadingPosition) error
	PostChat(ctx context.Context, conn Conn, text string) error
	EndMeeting(ctx context.Context, conn Conn) error
	RunReaper(ctx context.Context)
}

type sessionService struct {
	store meetingstore.IMeetingStore
	reg   *registry

	// byConn tracks which room a connection currently belongs to. A
	// connection is in at most one room; joining another implicitly leaves
	// the previous one.
	byConn sync.Map // connID -> *room

	emptyGrace    time.Duration
	sweepInterval time.Duration
}

func NewSessionService(store meetingstore.IMeetingStore, emptyGrace, sweepInterval time.Duration) ISessionService {
	return &sessionService{
		store:         store,
		reg:           newRegistry(),
		emptyGrace:    emptyGrace,
		sweepInterval: sweepInterval,
	}
}

// Join validates the meeting against the durable store, registers the
// connection and broadcasts the new presence snapshot. A late joiner
// receives the current playback state before any later broadcast (see
// room.add).
func (svc *sessionService) Join(ctx context.Context, conn Conn, meetingID string) error {
	if conn.UserID() == "" {
		return ErrUnauthorized
	}

	active, err := svc.store.IsMeetingActive(ctx, meetingID)
	if err != nil {
		if errors.Is(err, meetingstore.ErrMeetingNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	if !active {
		return ErrInvalidState
	}

	ok, err := svc.store.IsAuthorizedParticipant(ctx, conn.UserID(), meetingID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	if !ok {
		return ErrUnauthorized
	}

	// Re-joining a different room implicitly leaves the previous one.
	if prev, ok := svc.roomOf(conn); ok && prev.id != meetingID {
		svc.dropFromRoom(ctx, conn, prev)
	}

	// A room refusing the admission is shutting down (teardown or reaper);
	// drop its stale registry entry and take a fresh one.
	var r *room
	for {
		r = svc.reg.getOrCreate(meetingID)
		if r.add(conn) {
			break
		}
		svc.reg.removeIfSame(meetingID, r)
	}
	svc.byConn.Store(conn.ID(), r)

	// Durable attendance record; never blocks the live path.
	if err := svc.store.AddMeetingParticipant(ctx, meetingID, conn.UserID()); err != nil {
		zap.L().Warn("session.participant_add", zap.String("meeting", meetingID), zap.Error(err))
	}

	svc.broadcastPresence(ctx, r)
	return nil
}

// Leave handles an explicit leave request. The meeting admin may not leave:
// admins end the meeting instead. This is a domain rule; an admin's socket
// dropping is handled by Disconnect.
func (svc *sessionService) Leave(ctx context.Context, conn Conn) error {
	r, ok := svc.roomOf(conn)
	if !ok {
		return ErrNotFound
	}

	admin, err := svc.store.GetMeetingAdmin(ctx, r.id)
	if err != nil && !errors.Is(err, meetingstore.ErrMeetingNotFound) {
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	if admin != "" && admin == conn.UserID() {
		return ErrForbidden
	}

	svc.dropFromRoom(ctx, conn, r)

	if err := svc.store.RemoveMeetingParticipant(ctx, r.id, conn.UserID()); err != nil {
		zap.L().Warn("session.participant_remove", zap.String("meeting", r.id), zap.Error(err))
	}
	return nil
}

// Disconnect is the implicit leave on an abrupt socket drop. The connection
// is gone regardless of role, so no admin rule applies here. Socket churn
// must not pile up behind a slow store, so the presence resolution runs
// under its own short deadline.
func (svc *sessionService) Disconnect(conn Conn) {
	if r, ok := svc.roomOf(conn); ok {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		svc.dropFromRoom(ctx, conn, r)
	}
}

// ApplyControl replaces the room's playback state (last-write-wins) and
// fans it out to every other participant. The sender already holds the
// state it just set.
func (svc *sessionService) ApplyControl(ctx context.Context, conn Conn, state PlaybackState) error {
	r, ok := svc.roomOf(conn)
	if !ok {
		return ErrNotFound
	}
	state.UpdatedAt = time.Now().UTC()
	recipients := r.setPlayback(state, conn.ID())
	broadcast(recipients, EventPlayback, state)
	return nil
}

// ApplyReading mirrors the text position the same way playback is mirrored.
func (svc *sessionService) ApplyReading(ctx context.Context, conn Conn, pos ReadingPosition) error {
	r, ok := svc.roomOf(conn)
	if !ok {
		return ErrNotFound
	}
	recipients := r.setReading(pos, conn.ID())
	broadcast(recipients, EventReading, pos)
	return nil
}

// PostChat appends the message to the durable transcript and only then
// broadcasts the stored message to the whole room, sender included, so
// every client renders the one authoritative echo.
func (svc *sessionService) PostChat(ctx context.Context, conn Conn, text string) error {
	r, ok := svc.roomOf(conn)
	if !ok {
		return ErrNotFound
	}

	msg := meetingstore.ChatMessage{
		SenderID: conn.UserID(),
		Text:     text,
		SentAt:   time.Now().UTC(),
	}
	if err := svc.store.AppendChatMessage(ctx, r.id, msg); err != nil {
		zap.L().Warn("session.chat_append_retry", zap.String("meeting", r.id), zap.Error(err))
		if err = svc.store.AppendChatMessage(ctx, r.id, msg); err != nil {
			return fmt.Errorf("%w: %s", ErrPersistence, err)
		}
	}

	broadcast(r.snapshot(""), EventChat, ChatBody{
		MeetingID: r.id,
		Sender:    svc.displayInfo(ctx, conn.UserID()),
		Text:      msg.Text,
		SentAt:    msg.SentAt,
	})
	return nil
}

// EndMeeting retires the room. The durable record is flipped first; if that
// fails the room stays live and nothing is broadcast, since partially
// tearing down a still-active meeting would strand clients. Membership is
// cleared before any connection is closed, and the registry entry goes last.
func (svc *sessionService) EndMeeting(ctx context.Context, conn Conn) error {
	r, ok := svc.roomOf(conn)
	if !ok {
		return ErrNotFound
	}

	admin, err := svc.store.GetMeetingAdmin(ctx, r.id)
	if err != nil {
		if errors.Is(err, meetingstore.ErrMeetingNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	if admin != conn.UserID() {
		return ErrForbidden
	}

	if err := svc.store.SetMeetingInactive(ctx, r.id); err != nil {
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}

	evicted := r.evacuate()
	broadcast(evicted, EventEnded, EndedBody{MeetingID: r.id})
	for _, c := range evicted {
		svc.byConn.Delete(c.ID())
		c.Close("meeting ended")
	}
	svc.reg.removeIfSame(r.id, r)

	zap.L().Info("session.ended",
		zap.String("meeting", r.id),
		zap.Int("participants", len(evicted)),
	)
	return nil
}

// RunReaper evicts rooms that stayed empty past the grace period, so
// abandoned meetings do not leak memory. Run must be started once at boot.
func (svc *sessionService) RunReaper(ctx context.Context) {
	tk := time.NewTicker(svc.sweepInterval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			svc.sweepOnce(time.Now())
		}
	}
}

func (svc *sessionService) sweepOnce(now time.Time) {
	svc.reg.forEach(func(r *room) {
		if d, ok := r.closeIfAbandoned(now, svc.emptyGrace); ok {
			svc.reg.removeIfSame(r.id, r)
			zap.L().Info("session.reaped",
				zap.String("meeting", r.id),
				zap.Duration("empty_for", d),
			)
		}
	})
}

// ─────────────────────────────── helpers ────────────────────────────────

func (svc *sessionService) roomOf(conn Conn) (*room, bool) {
	v, ok := svc.byConn.Load(conn.ID())
	if !ok {
		return nil, false
	}
	r := v.(*room)
	if !r.has(conn.ID()) {
		// Stale entry from a torn-down room.
		svc.byConn.Delete(conn.ID())
		return nil, false
	}
	return r, true
}

// dropFromRoom removes the connection and tells the remaining participants.
func (svc *sessionService) dropFromRoom(ctx context.Context, conn Conn, r *room) {
	wasMember, _ := r.remove(conn.ID())
	svc.byConn.Delete(conn.ID())
	if wasMember {
		svc.broadcastPresence(ctx, r)
	}
}

// broadcastPresence recomputes the derived presence snapshot and sends it
// to the whole room. Recipients and announced user ids come from one
// critical section, so the list always matches who hears it. Display
// identities come from the store's read-through cache; a resolution
// failure degrades to a bare user id instead of blocking the membership
// change.
func (svc *sessionService) broadcastPresence(ctx context.Context, r *room) {
	recipients, userIDs := r.presence()
	participants := make([]meetingstore.DisplayInfo, 0, len(userIDs))
	for _, id := range userIDs {
		participants = append(participants, svc.displayInfo(ctx, id))
	}

	broadcast(recipients, EventParticipants, PresenceBody{
		MeetingID:    r.id,
		Participants: participants,
	})
}

func (svc *sessionService) displayInfo(ctx context.Context, userID string) meetingstore.DisplayInfo {
	info, err := svc.store.ResolveUserDisplayInfo(ctx, userID)
	if err != nil {
		zap.L().Warn("session.display_info", zap.String("user", userID), zap.Error(err))
		return meetingstore.DisplayInfo{UserID: userID}
	}
	return *info
}
