// Package relay is the server core: it tracks which connections are in
// which room and forwards negotiation signals, chat and session-end
// notices between them. It never interprets negotiation payloads and
// never carries media.
package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/metrics"
)

var (
	// ErrRoomUnknown means the lessons service does not know the room id.
	ErrRoomUnknown = errors.New("unknown room")
	// ErrAlreadyJoined means the connection is already attached to a room.
	ErrAlreadyJoined = errors.New("already joined a room")
	// ErrGateUnavailable means the lessons service could not be reached.
	ErrGateUnavailable = errors.New("session gate unavailable")
)

// Relay bridges live connections within a room.
type Relay struct {
	reg  *Registry
	gate Gate
}

func New(reg *Registry, gate Gate) *Relay {
	return &Relay{reg: reg, gate: gate}
}

// Registry exposes the room registry for read-only introspection.
func (r *Relay) Registry() *Registry { return r.reg }

// Join validates the room id against the lessons service and, on success,
// attaches the connection: the joiner receives the occupant snapshot and
// every occupant receives one arrival notice. On rejection the connection
// stays unattached and every later relay operation from it is a no-op.
func (r *Relay) Join(ctx context.Context, h *Handle, req JoinRoom) error {
	if _, attached := h.Room(); attached {
		return ErrAlreadyJoined
	}

	p, err := domain.NewParticipant(req.ParticipantID, req.DisplayName, req.Role)
	if err != nil {
		return err
	}

	// Gate call resolves before any registry lock is held.
	ok, err := r.gate.ValidateRoom(ctx, req.RoomID)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("room", string(req.RoomID)).Msg("room validation failed")
		return ErrGateUnavailable
	}
	if !ok {
		metrics.JoinsRejected.Inc()
		log.Info().Str("module", "relay").Str("room", string(req.RoomID)).Str("conn", string(h.ID)).Msg("join rejected")
		return ErrRoomUnknown
	}

	if !h.attach(req.RoomID, *p) {
		return ErrAlreadyJoined
	}
	r.reg.join(req.RoomID, h)
	metrics.MessagesRelayed.WithLabelValues(string(KindJoinRoom)).Inc()
	log.Info().
		Str("module", "relay").
		Str("room", string(req.RoomID)).
		Str("conn", string(h.ID)).
		Str("participant", string(p.ID)).
		Str("role", string(p.Role)).
		Msg("joined room")
	return nil
}

// Signal forwards a negotiation envelope within the sender's room.
// Unattached senders and stale targets are silently ignored.
func (r *Relay) Signal(h *Handle, sig Signal) {
	id, attached := h.Room()
	if !attached {
		return
	}
	rm, ok := r.reg.get(id)
	if !ok {
		return
	}
	metrics.MessagesRelayed.WithLabelValues(string(KindSignal)).Inc()
	rm.relaySignal(h, sig)
}

// Chat broadcasts a chat message to the whole room, sender included,
// with the timestamp assigned by the relay.
func (r *Relay) Chat(h *Handle, in ChatSend) {
	id, attached := h.Room()
	if !attached {
		return
	}
	rm, ok := r.reg.get(id)
	if !ok {
		return
	}
	metrics.MessagesRelayed.WithLabelValues(string(KindChat)).Inc()
	rm.relayChat(h, in)
}

// EndSession broadcasts a session-ended notice if, and only if, the
// requester is the session owner according to the lessons service.
// Anything else is a silent no-op so ownership is never leaked.
func (r *Relay) EndSession(ctx context.Context, h *Handle) {
	id, attached := h.Room()
	if !attached {
		return
	}
	owner, err := r.gate.SessionOwner(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("room", string(id)).Msg("owner lookup failed")
		return
	}
	p := h.Participant()
	if owner == "" || owner != p.ID {
		log.Info().
			Str("module", "relay").
			Str("room", string(id)).
			Str("conn", string(h.ID)).
			Msg("end-session from non-owner ignored")
		return
	}
	rm, ok := r.reg.get(id)
	if !ok {
		return
	}
	metrics.MessagesRelayed.WithLabelValues(string(KindSessionEnded)).Inc()
	rm.announceEnd(p.DisplayName)
	log.Info().Str("module", "relay").Str("room", string(id)).Str("conn", string(h.ID)).Msg("session ended")
}

// Disconnect detaches the connection and notifies the remaining members.
// Idempotent: a handle that never joined, or already left, is a no-op.
func (r *Relay) Disconnect(h *Handle) {
	id, attached := h.Room()
	if !attached {
		return
	}
	if !h.detach() {
		return
	}
	r.reg.leave(id, h)
	log.Info().Str("module", "relay").Str("room", string(id)).Str("conn", string(h.ID)).Msg("left room")
}
