package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/relay"
)

// State of one peer session.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// signalBody is the negotiation payload exchanged between clients.
// The relay treats it as opaque bytes.
type signalBody struct {
	Kind      string                   `json:"kind"` // offer | answer | candidate
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// PeerSession owns the peer connection toward exactly one remote
// connection id. At most one session exists per remote id at any time;
// a closed session is discarded and the id starts over from idle.
type PeerSession struct {
	remoteID  relay.ConnID
	initiator bool
	pc        *webrtc.PeerConnection

	sendSignal func(target relay.ConnID, body signalBody)
	onTrack    func(remote relay.ConnID, track *webrtc.TrackRemote)
	onClosed   func(remote relay.ConnID)

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closeOnce sync.Once
}

func newPeerSession(
	remoteID relay.ConnID,
	initiator bool,
	media *MediaSource,
	rtcConfig webrtc.Configuration,
	sendSignal func(target relay.ConnID, body signalBody),
	onTrack func(remote relay.ConnID, track *webrtc.TrackRemote),
	onClosed func(remote relay.ConnID),
) (*PeerSession, error) {
	pc, err := webrtc.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &PeerSession{
		remoteID:   remoteID,
		initiator:  initiator,
		pc:         pc,
		sendSignal: sendSignal,
		onTrack:    onTrack,
		onClosed:   onClosed,
		state:      StateIdle,
	}

	if media != nil {
		for _, track := range media.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("add track: %w", err)
			}
			// Drain RTCP so the sender keeps running.
			go func() {
				buf := make([]byte, 1500)
				for {
					if _, _, err := sender.Read(buf); err != nil {
						return
					}
				}
			}()
		}
	} else {
		// No local capture: still receive the remote side.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add transceiver: %w", err)
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		s.sendSignal(remoteID, signalBody{Kind: "candidate", Candidate: &init})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "client.peer").
			Str("remote", string(remoteID)).
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		s.setState(StateConnected)
		if s.onTrack != nil {
			s.onTrack(remoteID, track)
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().
			Str("module", "client.peer").
			Str("remote", string(remoteID)).
			Str("peer_state", st.String()).
			Msg("peer state")
		if st == webrtc.PeerConnectionStateFailed || st == webrtc.PeerConnectionStateClosed {
			s.Close()
		}
	})

	return s, nil
}

// State reports the current session state.
func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PeerSession) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = st
}

// startOffer creates and sends the initial offer. Candidates trickle
// separately; nothing waits for gathering to finish.
func (s *PeerSession) startOffer() error {
	s.setState(StateNegotiating)
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	s.sendSignal(s.remoteID, signalBody{Kind: "offer", SDP: offer.SDP})
	return nil
}

// handleSignal feeds one inbound negotiation payload into the session.
func (s *PeerSession) handleSignal(payload json.RawMessage) error {
	var body signalBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode signal body: %w", err)
	}

	switch body.Kind {
	case "offer":
		s.setState(StateNegotiating)
		if err := s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: body.SDP}); err != nil {
			return err
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		s.sendSignal(s.remoteID, signalBody{Kind: "answer", SDP: answer.SDP})
	case "answer":
		if err := s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: body.SDP}); err != nil {
			return err
		}
	case "candidate":
		if body.Candidate == nil {
			return nil
		}
		return s.addCandidate(*body.Candidate)
	default:
		log.Warn().Str("module", "client.peer").Str("kind", body.Kind).Msg("unknown signal body")
	}
	return nil
}

func (s *PeerSession) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "client.peer").Str("remote", string(s.remoteID)).Msg("flush candidate")
		}
	}
	return nil
}

// addCandidate applies a remote candidate, buffering those that arrive
// before the remote description.
func (s *PeerSession) addCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(c)
}

// Close tears the session down. Idempotent; the onClosed callback fires
// exactly once.
func (s *PeerSession) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		if err := s.pc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "client.peer").Str("remote", string(s.remoteID)).Msg("close peer connection")
		}
		if s.onClosed != nil {
			s.onClosed(s.remoteID)
		}
	})
}
