package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dchirkin/lessonlive/internal/relay"
)

var ErrBackpressure = errors.New("backpressure")

// Conn wraps one websocket with a buffered outbound channel. TrySend
// never blocks: a full buffer is reported as backpressure and the frame
// is dropped by the caller.
type Conn struct {
	conn *websocket.Conn
	send chan relay.Frame

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		conn: ws,
		send: make(chan relay.Frame, 32),
	}
}

func (c *Conn) TrySend(f relay.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
