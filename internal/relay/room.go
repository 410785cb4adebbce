package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/metrics"
)

// room is the live membership of one session id: the connections that
// joined it, in arrival order. All mutation and all broadcast enumeration
// happen under mu, which is what gives every recipient the same event
// order within a room.
type room struct {
	id domain.RoomID

	mu         sync.Mutex
	members    []*Handle
	lastChatAt time.Time
}

func newRoom(id domain.RoomID) *room {
	return &room{id: id}
}

// deliver hands a frame to one member, best effort. A slow or closing
// connection drops the frame; negotiation re-probes, chat is lossy by
// contract.
func (r *room) deliver(h *Handle, f Frame) {
	if err := h.out.TrySend(f); err != nil {
		metrics.FramesDropped.Inc()
		log.Warn().
			Str("module", "relay.room").
			Str("room", string(r.id)).
			Str("conn", string(h.ID)).
			Err(err).
			Msg("dropping frame")
	}
}

// join appends h and, inside one critical section, sends the occupant
// snapshot to the joiner and the arrival notice to everyone already there.
func (r *room) join(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := ExistingPeers{
		SelfConnectionID: h.ID,
		Peers:            make([]PeerInfo, 0, len(r.members)),
	}
	for _, m := range r.members {
		snapshot.Peers = append(snapshot.Peers, m.info())
	}
	if f, ok := encode(KindExistingPeers, snapshot); ok {
		r.deliver(h, f)
	}
	if f, ok := encode(KindPeerJoined, h.info()); ok {
		for _, m := range r.members {
			r.deliver(m, f)
		}
	}
	r.members = append(r.members, h)
}

// leave removes h and notifies the remaining members. Returns the member
// count afterwards so the registry can drop an empty room.
func (r *room) leave(h *Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.members {
		if m == h {
			r.members = append(r.members[:i], r.members[i+1:]...)
			if f, ok := encode(KindPeerLeft, PeerLeft{ConnectionID: h.ID}); ok {
				for _, rest := range r.members {
					r.deliver(rest, f)
				}
			}
			break
		}
	}
	return len(r.members)
}

// relaySignal forwards the envelope point-to-point when a target is set,
// otherwise to every member except the sender. A target that already left
// is silently dropped.
func (r *room) relaySignal(from *Handle, sig Signal) {
	sig.From = from.ID
	f, ok := encode(KindSignal, sig)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sig.Target != "" {
		for _, m := range r.members {
			if m.ID == sig.Target {
				r.deliver(m, f)
				return
			}
		}
		log.Debug().
			Str("module", "relay.room").
			Str("room", string(r.id)).
			Str("target", string(sig.Target)).
			Msg("signal target gone")
		return
	}
	for _, m := range r.members {
		if m == from {
			continue
		}
		r.deliver(m, f)
	}
}

// relayChat stamps the message and fans it out to every member, the
// sender included. The stamp is taken under the room lock, so per room
// it never decreases.
func (r *room) relayChat(from *Handle, in ChatSend) {
	p := from.Participant()
	msg := domain.ChatMessage{
		Text:       in.Text,
		SenderName: in.SenderName,
		SenderID:   in.SenderID,
	}
	if msg.SenderName == "" {
		msg.SenderName = p.DisplayName
	}
	if msg.SenderID == "" {
		msg.SenderID = p.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(r.lastChatAt) {
		now = r.lastChatAt
	}
	r.lastChatAt = now
	msg.SentAt = now

	f, ok := encode(KindChat, msg)
	if !ok {
		return
	}
	for _, m := range r.members {
		r.deliver(m, f)
	}
}

// announceEnd broadcasts the session-ended notice to every member,
// the requester included.
func (r *room) announceEnd(endedBy string) {
	f, ok := encode(KindSessionEnded, SessionEnded{EndedBy: endedBy})
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		r.deliver(m, f)
	}
}

func (r *room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *room) membersSnapshot() []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PeerInfo, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.info())
	}
	return out
}

func encode(kind Kind, payload any) (Frame, bool) {
	m, err := NewMessage(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.room").Str("kind", string(kind)).Msg("encode payload")
		return nil, false
	}
	f, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "relay.room").Str("kind", string(kind)).Msg("encode frame")
		return nil, false
	}
	return f, true
}
