package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/relay"
)

var ErrNotConnected = errors.New("not connected")

// Client connects the orchestrator to a live relay over websocket.
type Client struct {
	url  string
	join relay.JoinRoom
	orch *Orchestrator

	conn    *websocket.Conn
	writeMu sync.Mutex

	leaveOnce sync.Once
	done      chan struct{}
}

// NewClient prepares a room client. media may be nil: the client then
// joins for chat and presence only and receives remote streams without
// publishing any (local capture failure is not fatal to the room).
func NewClient(serverURL string, join relay.JoinRoom, media *MediaSource, stunServers []string, events Events) *Client {
	c := &Client{
		url:  serverURL,
		join: join,
		done: make(chan struct{}),
	}
	c.orch = NewOrchestrator(c.writeMessage, media, stunServers, events)
	c.orch.SetIdentity(join.DisplayName, join.ParticipantID)
	return c
}

// Orchestrator exposes the peer/presence/chat state.
func (c *Client) Orchestrator() *Orchestrator { return c.orch }

// Connect dials the relay, announces the join and starts the event loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	msg, err := relay.NewMessage(relay.KindJoinRoom, c.join)
	if err != nil {
		conn.Close()
		return err
	}
	if err := c.writeMessage(msg); err != nil {
		conn.Close()
		return fmt.Errorf("announce join: %w", err)
	}

	go c.readLoop()
	log.Info().
		Str("module", "client").
		Str("room", string(c.join.RoomID)).
		Str("name", c.join.DisplayName).
		Msg("joined")
	return nil
}

func (c *Client) readLoop() {
	defer c.Leave()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "client").Msg("read error")
			}
			return
		}
		var msg relay.Message
		if err := msg.UnmarshalFrame(data); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		if err := c.orch.HandleMessage(msg); err != nil {
			log.Error().Err(err).Str("module", "client").Str("kind", string(msg.Type)).Msg("handle event")
		}
	}
}

func (c *Client) writeMessage(msg relay.Message) error {
	select {
	case <-c.done:
		return ErrLeft
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(msg)
}

// SendChat submits a chat line to the room.
func (c *Client) SendChat(text string) error { return c.orch.SendChat(text) }

// EndSession asks the relay to end the session (owner only).
func (c *Client) EndSession() error { return c.orch.EndSession() }

// Leave closes every peer session and the signaling connection. By the
// time it returns the teardown is complete; calling it again is a no-op.
func (c *Client) Leave() {
	c.leaveOnce.Do(func() {
		close(c.done)
		c.orch.Close()
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		}
		log.Info().Str("module", "client").Str("room", string(c.join.RoomID)).Msg("left")
	})
}
