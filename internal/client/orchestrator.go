// Package client is the room-side counterpart of the relay: it turns
// relay events into live peer connections, keeps the presence directory
// and the chat log, and shares one local media source across all peers.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/relay"
)

var ErrLeft = errors.New("room left")

// Events are the application callbacks. All of them may be nil. They are
// invoked from the event loop goroutine and must not block.
type Events struct {
	OnPresence     func(entries []Entry)
	OnChat         func(msg domain.ChatMessage)
	OnRemoteTrack  func(remote relay.ConnID, track *webrtc.TrackRemote)
	OnPeerClosed   func(remote relay.ConnID)
	OnSessionEnded func(endedBy string)
	OnError        func(reason string)
}

// Orchestrator drives one peer session per remote connection id. It is
// transport-agnostic: outbound messages go through the send func, inbound
// ones arrive via HandleMessage. Glare is avoided by a fixed policy: the
// side that was already in the room initiates toward each newcomer, the
// newcomer only responds.
type Orchestrator struct {
	send   func(relay.Message) error
	media  *MediaSource // nil when media acquisition failed
	rtc    webrtc.Configuration
	events Events

	mu       sync.Mutex
	self     Entry
	peers    map[relay.ConnID]*PeerSession
	presence *Presence
	chat     *ChatLog
	closed   bool
}

func NewOrchestrator(send func(relay.Message) error, media *MediaSource, stunServers []string, events Events) *Orchestrator {
	rtc := webrtc.Configuration{}
	if len(stunServers) > 0 {
		rtc.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &Orchestrator{
		send:     send,
		media:    media,
		rtc:      rtc,
		events:   events,
		peers:    make(map[relay.ConnID]*PeerSession),
		presence: NewPresence(),
		chat:     NewChatLog(),
	}
}

func (o *Orchestrator) Presence() *Presence { return o.presence }
func (o *Orchestrator) Chat() *ChatLog      { return o.chat }

// SetIdentity records the local display name and participant id for the
// self presence entry. The connection id arrives later, with the
// occupant snapshot.
func (o *Orchestrator) SetIdentity(name string, id domain.ParticipantID) {
	o.mu.Lock()
	o.self.DisplayName = name
	o.self.ParticipantID = id
	self := o.self
	o.mu.Unlock()
	o.presence.SetSelf(self)
}

// SelfID is the connection id the relay assigned, known after the
// occupant snapshot arrives.
func (o *Orchestrator) SelfID() relay.ConnID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.self.ConnectionID
}

// HandleMessage feeds one relay event into the orchestrator.
func (o *Orchestrator) HandleMessage(msg relay.Message) error {
	switch msg.Type {
	case relay.KindExistingPeers:
		var snap relay.ExistingPeers
		if err := msg.Decode(&snap); err != nil {
			return fmt.Errorf("existing-peers: %w", err)
		}
		o.handleSnapshot(snap)
	case relay.KindPeerJoined:
		var info relay.PeerInfo
		if err := msg.Decode(&info); err != nil {
			return fmt.Errorf("peer-joined: %w", err)
		}
		o.handlePeerJoined(info)
	case relay.KindPeerLeft:
		var left relay.PeerLeft
		if err := msg.Decode(&left); err != nil {
			return fmt.Errorf("peer-left: %w", err)
		}
		o.closePeer(left.ConnectionID)
	case relay.KindSignal:
		var sig relay.Signal
		if err := msg.Decode(&sig); err != nil {
			return fmt.Errorf("signal: %w", err)
		}
		return o.handleSignal(sig)
	case relay.KindChat:
		var m domain.ChatMessage
		if err := msg.Decode(&m); err != nil {
			return fmt.Errorf("chat-message: %w", err)
		}
		o.chat.Append(m)
		if o.events.OnChat != nil {
			o.events.OnChat(m)
		}
	case relay.KindSessionEnded:
		var ended relay.SessionEnded
		if err := msg.Decode(&ended); err != nil {
			return fmt.Errorf("session-ended: %w", err)
		}
		if o.events.OnSessionEnded != nil {
			o.events.OnSessionEnded(ended.EndedBy)
		}
	case relay.KindError:
		var info relay.ErrorInfo
		if err := msg.Decode(&info); err != nil {
			return fmt.Errorf("error event: %w", err)
		}
		log.Warn().Str("module", "client").Str("reason", info.Error).Msg("relay error")
		if o.events.OnError != nil {
			o.events.OnError(info.Error)
		}
	case relay.KindJoinRoom, relay.KindEndSession:
		// client-to-server kinds never arrive inbound
	default:
		log.Warn().Str("module", "client").Str("kind", string(msg.Type)).Msg("unknown event")
	}
	return nil
}

// handleSnapshot records who is already here. The joiner does not
// initiate toward anyone: each incumbent will send the first offer.
func (o *Orchestrator) handleSnapshot(snap relay.ExistingPeers) {
	o.mu.Lock()
	o.self.ConnectionID = snap.SelfConnectionID
	self := o.self
	o.mu.Unlock()
	o.presence.SetSelf(self)
	for _, p := range snap.Peers {
		o.presence.Add(Entry{
			ConnectionID:  p.ConnectionID,
			DisplayName:   p.DisplayName,
			ParticipantID: p.ParticipantID,
		})
	}
	o.notifyPresence()
}

// handlePeerJoined reacts to a newcomer: this side is the incumbent, so
// it initiates the negotiation.
func (o *Orchestrator) handlePeerJoined(info relay.PeerInfo) {
	o.presence.Add(Entry{
		ConnectionID:  info.ConnectionID,
		DisplayName:   info.DisplayName,
		ParticipantID: info.ParticipantID,
	})
	o.notifyPresence()
	if _, err := o.CreateOrAttach(info.ConnectionID, true); err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(info.ConnectionID)).Msg("initiate toward newcomer")
	}
}

// handleSignal routes an inbound envelope to its peer session, creating
// a responder session on first contact.
func (o *Orchestrator) handleSignal(sig relay.Signal) error {
	if sig.From == "" {
		return nil
	}
	sess, err := o.CreateOrAttach(sig.From, false)
	if err != nil {
		return err
	}
	if err := sess.handleSignal(sig.Payload); err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(sig.From)).Msg("negotiation error")
		o.closePeer(sig.From)
	}
	return nil
}

// CreateOrAttach returns the live peer session for a remote id, creating
// one if none exists. Idempotent: an existing session is returned as-is
// and no new negotiation starts.
func (o *Orchestrator) CreateOrAttach(remote relay.ConnID, initiator bool) (*PeerSession, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrLeft
	}
	if sess, ok := o.peers[remote]; ok {
		o.mu.Unlock()
		return sess, nil
	}

	sess, err := newPeerSession(remote, initiator, o.media, o.rtc, o.sendPeerSignal, o.handleRemoteTrack, o.handlePeerClosed)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.peers[remote] = sess
	o.mu.Unlock()

	if initiator {
		if err := sess.startOffer(); err != nil {
			o.closePeer(remote)
			return nil, err
		}
	}
	return sess, nil
}

func (o *Orchestrator) sendPeerSignal(target relay.ConnID, body signalBody) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("encode signal body")
		return
	}
	msg, err := relay.NewMessage(relay.KindSignal, relay.Signal{
		Target:  target,
		Payload: payload,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("wrap signal")
		return
	}
	if err := o.send(msg); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("target", string(target)).Msg("send signal")
	}
}

func (o *Orchestrator) handleRemoteTrack(remote relay.ConnID, track *webrtc.TrackRemote) {
	if o.events.OnRemoteTrack != nil {
		o.events.OnRemoteTrack(remote, track)
	}
}

// handlePeerClosed runs when a session dies on its own (media error,
// transport failure). Only that peer is dropped; the room connection and
// the other sessions stay up.
func (o *Orchestrator) handlePeerClosed(remote relay.ConnID) {
	o.mu.Lock()
	_, ok := o.peers[remote]
	if ok {
		delete(o.peers, remote)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	o.presence.Remove(remote)
	o.notifyPresence()
	if o.events.OnPeerClosed != nil {
		o.events.OnPeerClosed(remote)
	}
}

// closePeer tears one session down and forgets its presence entry. The
// map removal and the callbacks run in handlePeerClosed, which the
// session's close fires; a remote that never negotiated still loses its
// presence entry here.
func (o *Orchestrator) closePeer(remote relay.ConnID) {
	o.mu.Lock()
	sess, ok := o.peers[remote]
	o.mu.Unlock()

	if ok {
		sess.Close()
		return
	}
	o.presence.Remove(remote)
	o.notifyPresence()
}

// Peer returns the live session for a remote id, if any.
func (o *Orchestrator) Peer(remote relay.ConnID) (*PeerSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.peers[remote]
	return sess, ok
}

// PeerCount reports the number of live peer sessions.
func (o *Orchestrator) PeerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.peers)
}

// SendChat submits a chat line; the relay stamps it and echoes it back.
func (o *Orchestrator) SendChat(text string) error {
	msg, err := relay.NewMessage(relay.KindChat, relay.ChatSend{Text: text})
	if err != nil {
		return err
	}
	return o.send(msg)
}

// EndSession asks the relay to end the session. Non-owners are ignored
// server-side.
func (o *Orchestrator) EndSession() error {
	msg, err := relay.NewMessage(relay.KindEndSession, nil)
	if err != nil {
		return err
	}
	return o.send(msg)
}

// Close shuts every peer session down. Idempotent; the caller returns
// only after all sessions are closed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	peers := make([]*PeerSession, 0, len(o.peers))
	for _, sess := range o.peers {
		peers = append(peers, sess)
	}
	o.peers = make(map[relay.ConnID]*PeerSession)
	o.mu.Unlock()

	for _, sess := range peers {
		sess.Close()
	}
}

func (o *Orchestrator) notifyPresence() {
	if o.events.OnPresence != nil {
		o.events.OnPresence(o.presence.Snapshot())
	}
}
