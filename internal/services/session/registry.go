package session

import "sync"

// registry keeps at most one room object per meeting id. Rooms are created
// lazily on first join and destroyed by teardown or the reaper.
type registry struct {
	rooms sync.Map // meetingID -> *room
}

func newRegistry() *registry { return &registry{} }

func (rg *registry) getOrCreate(meetingID string) *room {
	r, _ := rg.rooms.LoadOrStore(meetingID, newRoom(meetingID))
	return r.(*room)
}

func (rg *registry) get(meetingID string) (*room, bool) {
	if v, ok := rg.rooms.Load(meetingID); ok {
		return v.(*room), true
	}
	return nil, false
}

// removeIfSame deletes the mapping only while it still points at the given
// room, so a late delete cannot take out a fresh room minted for the same
// meeting in the meantime. Callers mark the room closed first; the two
// steps together make deletion and admission mutually exclusive.
func (rg *registry) removeIfSame(meetingID string, r *room) {
	rg.rooms.CompareAndDelete(meetingID, r)
}

func (rg *registry) forEach(fn func(r *room)) {
	rg.rooms.Range(func(_, v any) bool {
		fn(v.(*room))
		return true
	})
}
