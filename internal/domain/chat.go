package domain

import "time"

// ChatMessage is ephemeral: stamped and fanned out by the relay,
// appended to an in-memory log on each client, never persisted.
type ChatMessage struct {
	Text       string        `json:"text"`
	SenderName string        `json:"senderName"`
	SenderID   ParticipantID `json:"senderId"`
	SentAt     time.Time     `json:"sentAt"`
}
