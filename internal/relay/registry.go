package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/metrics"
)

// Registry maps session ids to live rooms. Rooms have an implicit
// lifecycle: an entry appears with the first join and disappears with
// the last leave, so "room exists" and "room has members" are the same
// statement.
//
// Lock order is always registry before room. Membership changes hold the
// registry write lock so an emptied room can be pruned without racing a
// concurrent join; signal and chat traffic only ever takes the read lock
// plus the room's own lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// join attaches h under id, creating the room on first use, and runs the
// snapshot/arrival fan-out.
func (reg *Registry) join(id domain.RoomID, h *Handle) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[id]
	if !ok {
		rm = newRoom(id)
		reg.rooms[id] = rm
		metrics.RoomsActive.Inc()
		log.Info().Str("module", "relay.registry").Str("room", string(id)).Msg("room created")
	}
	rm.join(h)
}

// leave removes h from its room and prunes the entry when the room is
// left empty.
func (reg *Registry) leave(id domain.RoomID, h *Handle) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[id]
	if !ok {
		return
	}
	if rm.leave(h) == 0 {
		delete(reg.rooms, id)
		metrics.RoomsActive.Dec()
		log.Info().Str("module", "relay.registry").Str("room", string(id)).Msg("room emptied")
	}
}

func (reg *Registry) get(id domain.RoomID) (*room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rm, ok := reg.rooms[id]
	return rm, ok
}

// RoomInfo is a read-only view for the introspection API.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

func (reg *Registry) List() []RoomInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]RoomInfo, 0, len(reg.rooms))
	for id, rm := range reg.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: rm.memberCount()})
	}
	return out
}

// Snapshot returns the current occupants of a room, in arrival order.
func (reg *Registry) Snapshot(id domain.RoomID) ([]PeerInfo, bool) {
	rm, ok := reg.get(id)
	if !ok {
		return nil, false
	}
	return rm.membersSnapshot(), true
}
