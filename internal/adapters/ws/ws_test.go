package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dchirkin/lessonlive/internal/adapters/ws"
	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/relay"
)

type fakeGate struct {
	owners map[domain.RoomID]domain.ParticipantID
}

func (g *fakeGate) ValidateRoom(_ context.Context, id domain.RoomID) (bool, error) {
	_, ok := g.owners[id]
	return ok, nil
}

func (g *fakeGate) SessionOwner(_ context.Context, id domain.RoomID) (domain.ParticipantID, error) {
	return g.owners[id], nil
}

func startServer(t *testing.T, chatLimit int) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate := &fakeGate{owners: map[domain.RoomID]domain.ParticipantID{"lesson-1": "p-alice"}}
	rel := relay.New(relay.NewRegistry(), gate)
	ctl := ws.NewController(rel, 1<<16, 30*time.Second,
		ws.NewRateLimiter(chatLimit, time.Minute))

	r := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	r.GET("/ws", func(c *gin.Context) { ctl.HandleLive(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(kind relay.Kind, payload any) {
	c.t.Helper()
	m, err := relay.NewMessage(kind, payload)
	if err != nil {
		c.t.Fatal(err)
	}
	f, err := m.Encode()
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
		c.t.Fatalf("write %s: %v", kind, err)
	}
}

// expect reads the next frame and requires a specific kind, decoding its
// payload into dst when dst is non-nil.
func (c *wsClient) expect(kind relay.Kind, dst any) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read while waiting for %s: %v", kind, err)
	}
	var m relay.Message
	if err := m.UnmarshalFrame(data); err != nil {
		c.t.Fatalf("bad frame: %v", err)
	}
	if m.Type != kind {
		c.t.Fatalf("got %s, want %s", m.Type, kind)
	}
	if dst != nil {
		if err := m.Decode(dst); err != nil {
			c.t.Fatalf("decode %s: %v", kind, err)
		}
	}
}

func (c *wsClient) join(room, participant, name, role string) relay.ExistingPeers {
	c.t.Helper()
	c.send(relay.KindJoinRoom, relay.JoinRoom{
		RoomID:        domain.RoomID(room),
		ParticipantID: domain.ParticipantID(participant),
		DisplayName:   name,
		Role:          domain.Role(role),
	})
	var snap relay.ExistingPeers
	c.expect(relay.KindExistingPeers, &snap)
	return snap
}

func TestLiveSessionOverWebsocket(t *testing.T) {
	srv := startServer(t, 100)

	alice := dial(t, srv)
	snapA := alice.join("lesson-1", "p-alice", "Alice", "owner")
	if snapA.SelfConnectionID == "" {
		t.Fatal("no self connection id in snapshot")
	}
	if len(snapA.Peers) != 0 {
		t.Fatalf("first joiner sees %d peers", len(snapA.Peers))
	}

	bob := dial(t, srv)
	snapB := bob.join("lesson-1", "p-bob", "Bob", "participant")
	if len(snapB.Peers) != 1 || snapB.Peers[0].DisplayName != "Alice" {
		t.Fatalf("second joiner snapshot: %+v", snapB.Peers)
	}
	if snapB.Peers[0].ConnectionID != snapA.SelfConnectionID {
		t.Fatal("snapshot peer id differs from the peer's own self id")
	}

	var joined relay.PeerInfo
	alice.expect(relay.KindPeerJoined, &joined)
	if joined.ConnectionID != snapB.SelfConnectionID || joined.DisplayName != "Bob" {
		t.Fatalf("peer-joined: %+v", joined)
	}

	// signaling: bob targets alice, only alice receives it
	bob.send(relay.KindSignal, relay.Signal{
		Target:  snapA.SelfConnectionID,
		Payload: []byte(`{"kind":"offer","sdp":"v=0"}`),
	})
	var sig relay.Signal
	alice.expect(relay.KindSignal, &sig)
	if sig.From != snapB.SelfConnectionID {
		t.Fatalf("signal from %s, want bob", sig.From)
	}

	// chat echoes to everyone including the sender, stamped server-side
	bob.send(relay.KindChat, relay.ChatSend{Text: "hello"})
	var chatA, chatB domain.ChatMessage
	alice.expect(relay.KindChat, &chatA)
	bob.expect(relay.KindChat, &chatB)
	if chatA.Text != "hello" || chatA.SenderName != "Bob" {
		t.Fatalf("chat at alice: %+v", chatA)
	}
	if chatB.SentAt.IsZero() || !chatA.SentAt.Equal(chatB.SentAt) {
		t.Fatalf("chat timestamps: %v vs %v", chatA.SentAt, chatB.SentAt)
	}

	// only the session owner may end it
	bob.send(relay.KindEndSession, nil)
	alice.send(relay.KindEndSession, nil)
	var endedA, endedB relay.SessionEnded
	alice.expect(relay.KindSessionEnded, &endedA)
	bob.expect(relay.KindSessionEnded, &endedB)
	if endedA.EndedBy != "Alice" || endedB.EndedBy != "Alice" {
		t.Fatalf("session ended by %q / %q", endedA.EndedBy, endedB.EndedBy)
	}
}

func TestJoinUnknownRoomReturnsError(t *testing.T) {
	srv := startServer(t, 100)

	c := dial(t, srv)
	c.send(relay.KindJoinRoom, relay.JoinRoom{
		RoomID:        "no-such-lesson",
		ParticipantID: "p-x",
		DisplayName:   "Mallory",
		Role:          domain.RoleParticipant,
	})
	var info relay.ErrorInfo
	c.expect(relay.KindError, &info)
	if info.Error == "" {
		t.Fatal("empty rejection reason")
	}
}

func TestUnresponsiveConnectionIsEvicted(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gate := &fakeGate{owners: map[domain.RoomID]domain.ParticipantID{"lesson-1": "p-alice"}}
	rel := relay.New(relay.NewRegistry(), gate)
	ctl := ws.NewController(rel, 1<<16, 100*time.Millisecond, nil)

	r := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	r.GET("/ws", func(c *gin.Context) { ctl.HandleLive(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	alice := dial(t, srv)
	alice.join("lesson-1", "p-alice", "Alice", "owner")

	bob := dial(t, srv)
	snapB := bob.join("lesson-1", "p-bob", "Bob", "participant")
	alice.expect(relay.KindPeerJoined, nil)

	// bob goes silent: no reads, so no pong ever answers the server's
	// pings, even though his TCP connection stays open
	var left relay.PeerLeft
	alice.expect(relay.KindPeerLeft, &left)
	if left.ConnectionID != snapB.SelfConnectionID {
		t.Fatalf("peer-left for %s, want the silent peer", left.ConnectionID)
	}
}

func TestChatRateLimit(t *testing.T) {
	srv := startServer(t, 2)

	c := dial(t, srv)
	c.join("lesson-1", "p-alice", "Alice", "owner")

	c.send(relay.KindChat, relay.ChatSend{Text: "one"})
	c.expect(relay.KindChat, nil)
	c.send(relay.KindChat, relay.ChatSend{Text: "two"})
	c.expect(relay.KindChat, nil)

	c.send(relay.KindChat, relay.ChatSend{Text: "three"})
	var info relay.ErrorInfo
	c.expect(relay.KindError, &info)
	if info.Error != "rate_limited" {
		t.Fatalf("limiter reason %q", info.Error)
	}
}

func TestDisconnectBroadcastsPeerLeft(t *testing.T) {
	srv := startServer(t, 100)

	alice := dial(t, srv)
	alice.join("lesson-1", "p-alice", "Alice", "owner")

	bob := dial(t, srv)
	snapB := bob.join("lesson-1", "p-bob", "Bob", "participant")
	alice.expect(relay.KindPeerJoined, nil)

	bob.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	bob.conn.Close()

	var left relay.PeerLeft
	alice.expect(relay.KindPeerLeft, &left)
	if left.ConnectionID != snapB.SelfConnectionID {
		t.Fatalf("peer-left for %s, want bob", left.ConnectionID)
	}
}
