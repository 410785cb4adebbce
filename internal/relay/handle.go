package relay

import (
	"sync"

	"github.com/dchirkin/lessonlive/internal/domain"
)

// Frame is a raw encoded envelope.
type Frame []byte

// ConnID identifies one live transport connection for the process lifetime.
type ConnID string

// Sender is the outbound half of a transport connection.
// Owned by the adapter; the adapter must Close() it, the relay only
// ever TrySends into it.
type Sender interface {
	TrySend(Frame) error
}

// Handle is the relay-side record of one live connection and its declared
// identity. It belongs to at most one room for its lifetime; the room id
// is set once at join and never changes afterwards.
type Handle struct {
	ID  ConnID
	out Sender

	mu          sync.Mutex
	attached    bool
	departed    bool
	room        domain.RoomID
	participant domain.Participant
}

func NewHandle(id ConnID, out Sender) *Handle {
	return &Handle{ID: id, out: out}
}

// Room returns the room this handle joined, if any.
func (h *Handle) Room() (domain.RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.room, h.attached
}

// Participant returns the identity declared at join time.
func (h *Handle) Participant() domain.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.participant
}

func (h *Handle) attach(room domain.RoomID, p domain.Participant) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attached || h.departed {
		return false
	}
	h.attached = true
	h.room = room
	h.participant = p
	return true
}

func (h *Handle) detach() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.attached {
		return false
	}
	h.attached = false
	h.departed = true
	return true
}

func (h *Handle) info() PeerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return PeerInfo{
		ConnectionID:  h.ID,
		DisplayName:   h.participant.DisplayName,
		ParticipantID: h.participant.ID,
	}
}
