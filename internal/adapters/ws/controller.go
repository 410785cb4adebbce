// Package ws serves the live signaling channel: one websocket per
// participant, pumped by a pair of goroutines, dispatched into the relay
// through a single typed switch.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/metrics"
	"github.com/dchirkin/lessonlive/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Relay       *relay.Relay
	ReadLimit   int64
	PingPeriod  time.Duration
	ChatLimiter *RateLimiter
}

func NewController(r *relay.Relay, readLimit int64, pingPeriod time.Duration, limiter *RateLimiter) *Controller {
	return &Controller{Relay: r, ReadLimit: readLimit, PingPeriod: pingPeriod, ChatLimiter: limiter}
}

// HandleLive upgrades the request and runs the connection until the
// transport drops. Everything a connection owns is torn down on read
// loop exit, abrupt or not.
func (ctl *Controller) HandleLive(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	id := relay.ConnID(uuid.NewString())
	conn := newConn(ws)
	handle := relay.NewHandle(id, conn)

	metrics.ConnectionsActive.Inc()
	log.Info().Str("module", "ws").Str("conn", string(id)).Msg("connection open")

	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, handle, conn)
	}()
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	// Closing the conn here unblocks the read loop, so a failed ping
	// tears the whole connection down instead of leaving a zombie.
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, h *relay.Handle, c *Conn) {
	defer func() {
		ctl.Relay.Disconnect(h)
		ctl.ChatLimiter.Forget(h.ID)
		c.Close()
		metrics.ConnectionsActive.Dec()
		log.Info().Str("module", "ws").Str("conn", string(h.ID)).Msg("connection closed")
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}

	// Liveness: every read must happen within one pong of the last ping,
	// otherwise a half-open connection blocks here until the kernel gives
	// up on the peer.
	pongWait := ctl.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "ws").Str("conn", string(h.ID)).Msg("read error")
				}
				return
			}
			ctl.dispatch(ctx, h, c, data)
		}
	}
}

// dispatch routes one inbound frame. The kind set is closed; anything
// outside it is logged and dropped.
func (ctl *Controller) dispatch(ctx context.Context, h *relay.Handle, c *Conn, data []byte) {
	var msg relay.Message
	if err := msg.UnmarshalFrame(data); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("conn", string(h.ID)).Msg("bad frame")
		return
	}

	switch msg.Type {
	case relay.KindJoinRoom:
		var req relay.JoinRoom
		if err := msg.Decode(&req); err != nil {
			ctl.sendError(c, "bad_payload")
			return
		}
		if err := ctl.Relay.Join(ctx, h, req); err != nil {
			ctl.sendError(c, err.Error())
		}
	case relay.KindSignal:
		var sig relay.Signal
		if err := msg.Decode(&sig); err != nil {
			ctl.sendError(c, "bad_payload")
			return
		}
		ctl.Relay.Signal(h, sig)
	case relay.KindChat:
		var chat relay.ChatSend
		if err := msg.Decode(&chat); err != nil {
			ctl.sendError(c, "bad_payload")
			return
		}
		if !ctl.ChatLimiter.Allow(h.ID) {
			log.Warn().Str("module", "ws").Str("conn", string(h.ID)).Msg("chat rate limit hit")
			ctl.sendError(c, "rate_limited")
			return
		}
		ctl.Relay.Chat(h, chat)
	case relay.KindEndSession:
		ctl.Relay.EndSession(ctx, h)
	case relay.KindExistingPeers, relay.KindPeerJoined, relay.KindPeerLeft,
		relay.KindSessionEnded, relay.KindError:
		// server-to-client kinds are not accepted inbound
		log.Warn().Str("module", "ws").Str("kind", string(msg.Type)).Msg("client sent server-only kind")
	default:
		log.Warn().Str("module", "ws").Str("kind", string(msg.Type)).Msg("unknown kind")
	}
}

func (ctl *Controller) sendError(c *Conn, reason string) {
	m, err := relay.NewMessage(relay.KindError, relay.ErrorInfo{Error: reason})
	if err != nil {
		return
	}
	f, err := m.Encode()
	if err != nil {
		return
	}
	_ = c.TrySend(f)
}
