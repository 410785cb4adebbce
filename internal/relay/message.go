package relay

import (
	"encoding/json"

	"github.com/dchirkin/lessonlive/internal/domain"
)

// Kind enumerates every event carried over the live channel. The set is
// closed: adapters dispatch with a switch over these constants instead of
// a handler map keyed by raw strings.
type Kind string

const (
	// client -> server
	KindJoinRoom   Kind = "join-room"
	KindSignal     Kind = "signal"
	KindChat       Kind = "chat-message"
	KindEndSession Kind = "end-session"

	// server -> client
	KindExistingPeers Kind = "existing-peers"
	KindPeerJoined    Kind = "peer-joined"
	KindPeerLeft      Kind = "peer-left"
	KindSessionEnded  Kind = "session-ended"
	KindError         Kind = "error"
)

// Message is the single wire envelope for the live channel.
// Data holds the kind-specific payload, still encoded.
type Message struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage wraps a payload struct into an envelope.
func NewMessage(kind Kind, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: kind}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: kind, Data: b}, nil
}

// Encode renders the envelope into a transport frame.
func (m Message) Encode() (Frame, error) {
	return json.Marshal(m)
}

// UnmarshalFrame decodes a transport frame into the envelope.
func (m *Message) UnmarshalFrame(data []byte) error {
	return json.Unmarshal(data, m)
}

// Decode unmarshals the kind-specific payload into dst.
func (m Message) Decode(dst any) error {
	return json.Unmarshal(m.Data, dst)
}

// JoinRoom attaches the connection to a room after the lessons service
// confirms the id.
type JoinRoom struct {
	RoomID        domain.RoomID        `json:"roomId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	DisplayName   string               `json:"displayName"`
	Role          domain.Role          `json:"role"`
}

// PeerInfo mirrors one remote connection handle for clients.
type PeerInfo struct {
	ConnectionID  ConnID               `json:"connectionId"`
	DisplayName   string               `json:"displayName"`
	ParticipantID domain.ParticipantID `json:"participantId"`
}

// ExistingPeers is the snapshot delivered once to a joiner.
type ExistingPeers struct {
	SelfConnectionID ConnID     `json:"selfConnectionId"`
	Peers            []PeerInfo `json:"peers"`
}

type PeerLeft struct {
	ConnectionID ConnID `json:"connectionId"`
}

// Signal carries opaque negotiation data. The relay fills From and never
// looks inside Payload. An empty Target means room broadcast excluding
// the sender.
type Signal struct {
	From    ConnID          `json:"from,omitempty"`
	Target  ConnID          `json:"targetConnectionId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ChatSend is the inbound chat payload. Sender fields are optional and
// default to the connection's registered identity.
type ChatSend struct {
	Text       string               `json:"text"`
	SenderName string               `json:"senderName,omitempty"`
	SenderID   domain.ParticipantID `json:"senderId,omitempty"`
}

type SessionEnded struct {
	EndedBy string `json:"endedBy"`
}

type ErrorInfo struct {
	Error string `json:"error"`
}
