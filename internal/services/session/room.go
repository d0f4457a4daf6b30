package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// room holds the ephemeral state of one meeting. Every read-modify-write of
// participants, playback or reading position goes through mu, so concurrent
// joins, control events and teardown never interleave.
type room struct {
	id string

	mu         sync.Mutex
	conns      map[string]Conn // connID -> conn
	playback   *PlaybackState
	reading    *ReadingPosition
	emptySince time.Time // zero while occupied
	closed     bool      // set before the registry entry is deleted
}

func newRoom(id string) *room {
	return &room{id: id, conns: map[string]Conn{}}
}

// add registers the connection and, while still holding the lock, pushes the
// current playback and reading state to the joiner only. Doing the catch-up
// send under the lock guarantees it reaches the joiner before any broadcast
// from a later control event. A room that has started shutting down refuses
// the admission, so a join can never slot into a registry entry that is
// about to be deleted.
func (r *room) add(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	r.conns[c.ID()] = c
	r.emptySince = time.Time{}

	if r.playback != nil {
		if err := c.Send(EventPlayback, *r.playback); err != nil {
			zap.L().Warn("room.catchup", zap.String("room", r.id), zap.Error(err))
		}
	}
	if r.reading != nil {
		if err := c.Send(EventReading, *r.reading); err != nil {
			zap.L().Warn("room.catchup", zap.String("room", r.id), zap.Error(err))
		}
	}
	return true
}

// remove drops the connection and reports whether it was a member and how
// many members are left.
func (r *room) remove(connID string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		return false, len(r.conns)
	}
	delete(r.conns, connID)
	if len(r.conns) == 0 {
		r.emptySince = time.Now()
	}
	return true, len(r.conns)
}

func (r *room) has(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[connID]
	return ok
}

// setPlayback replaces the stored state and returns the recipients of the
// resulting broadcast (everyone but the sender).
func (r *room) setPlayback(state PlaybackState, excludeConnID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback = &state
	return r.snapshotLocked(excludeConnID)
}

func (r *room) setReading(pos ReadingPosition, excludeConnID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reading = &pos
	return r.snapshotLocked(excludeConnID)
}

// snapshot takes a quick copy of the current connections so the I/O can
// happen outside the lock.
func (r *room) snapshot(excludeConnID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(excludeConnID)
}

func (r *room) snapshotLocked(excludeConnID string) []Conn {
	conns := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id == excludeConnID {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

// presence returns, in one critical section, the broadcast recipients and
// the user ids they must be told about, so the announced list always
// matches the recipient set.
func (r *room) presence() ([]Conn, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.snapshotLocked("")
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.UserID())
	}
	return conns, ids
}

// evacuate marks the room closed and clears playback state and membership
// in one critical section, handing back the evicted connections. Once
// closed, no connection can be admitted, so nothing stays registered to a
// room whose registry entry is about to disappear.
func (r *room) evacuate() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.snapshotLocked("")
	r.playback = nil
	r.reading = nil
	r.conns = map[string]Conn{}
	r.emptySince = time.Now()
	r.closed = true
	return evicted
}

// closeIfAbandoned marks the room closed when it has been empty past the
// grace period. Emptiness is re-verified and the flag is set under the same
// lock, so the decision cannot race with a concurrent admission.
func (r *room) closeIfAbandoned(now time.Time, grace time.Duration) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) != 0 || r.emptySince.IsZero() {
		return 0, false
	}
	d := now.Sub(r.emptySince)
	if d <= grace {
		return 0, false
	}
	r.closed = true
	return d, true
}

func send(c Conn, event string, body any) {
	if err := c.Send(event, body); err != nil {
		zap.L().Warn("room.send", zap.String("conn", c.ID()), zap.Error(err))
	}
}

// broadcast fans an event out to the given snapshot. I/O stays outside any
// room lock; dead sockets surface through the gateway's disconnect path.
func broadcast(conns []Conn, event string, body any) {
	for _, c := range conns {
		send(c, event, body)
	}
}
