package client

import (
	"sync"

	"github.com/dchirkin/lessonlive/internal/domain"
)

// ChatLog is the in-memory ordered log of chat broadcasts received from
// the relay. It lives only as long as the room session.
type ChatLog struct {
	mu   sync.Mutex
	msgs []domain.ChatMessage
}

func NewChatLog() *ChatLog {
	return &ChatLog{}
}

func (l *ChatLog) Append(m domain.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

func (l *ChatLog) Messages() []domain.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}
