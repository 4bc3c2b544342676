package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/inbox"
	"tempmail/inboxsync/internal/provider/memory"
	"tempmail/inboxsync/internal/viewer"
)

const testSecret = "test-secret-key-for-websocket-hub-0123456789"

type fixture struct {
	provider *memory.Provider
	tokens   *jwt.Manager
	viewers  *viewer.Registry
	hub      *Hub
	server   *httptest.Server
	stopHub  context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := memory.New(memory.Options{Domains: []string{"temp.mail"}})
	cfg := config.InboxConfig{
		Budget:           600 * time.Second,
		PollInterval:     time.Hour,
		FailureThreshold: 3,
		PollTimeout:      time.Second,
		BodyTimeout:      time.Second,
		TickInterval:     time.Second,
	}
	viewers := viewer.NewRegistry(func() *inbox.Engine { return inbox.New(p, cfg) }, config.ViewerConfig{MaxViewers: 10})
	t.Cleanup(viewers.Close)

	tokens := jwt.NewManager(testSecret, "inboxsync-test", time.Hour)
	hub := NewHub(tokens, viewers, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(cancel)

	return &fixture{provider: p, tokens: tokens, viewers: viewers, hub: hub, server: server, stopHub: cancel}
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) newViewer(t *testing.T) (*viewer.Viewer, string) {
	t.Helper()
	v, err := f.viewers.Create()
	require.NoError(t, err)
	tok, err := f.tokens.Issue(v.ID)
	require.NoError(t, err)
	return v, tok.Value
}

// readUntil 读取消息直到满足条件
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func isSnapshot(msg Message) bool {
	return msg.Type == MessageTypeSnapshot && msg.Snapshot != nil
}

func TestHandleWebSocket_RejectsMissingToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocket_RejectsUnknownViewer(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Issue("no-such-viewer")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + tok.Value
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_PushesInitialSnapshot(t *testing.T) {
	f := newFixture(t)
	v, token := f.newViewer(t)

	conn := f.dial(t, token)
	msg := readUntil(t, conn, isSnapshot)

	require.NotNil(t, msg.Snapshot.Session)
	assert.Equal(t, v.Engine.Snapshot().Session.Address, msg.Snapshot.Session.Address)
	assert.Equal(t, domain.DisplayEmpty, msg.Snapshot.State)

	assert.Eventually(t, func() bool { return v.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_RefreshDeliversNewMessages(t *testing.T) {
	f := newFixture(t)
	v, token := f.newViewer(t)
	conn := f.dial(t, token)
	first := readUntil(t, conn, isSnapshot)

	_, err := f.provider.Deliver(first.Snapshot.Session.Address, memory.InboundMessage{
		From:    domain.Sender{Name: "GitHub", Address: "noreply@github.com"},
		Subject: "Verify your email",
		Text:    "code 123456",
	})
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeRefresh}))
	msg := readUntil(t, conn, func(m Message) bool {
		return isSnapshot(m) && len(m.Snapshot.Messages) == 1
	})
	assert.Equal(t, "Verify your email", msg.Snapshot.Messages[0].Subject)
	assert.Equal(t, domain.DisplayReady, msg.Snapshot.State)
	assert.Len(t, v.Engine.Snapshot().Messages, 1)
}

func TestHub_NewAddressReplacesSession(t *testing.T) {
	f := newFixture(t)
	_, token := f.newViewer(t)
	conn := f.dial(t, token)
	first := readUntil(t, conn, isSnapshot)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeNewAddress}))
	msg := readUntil(t, conn, func(m Message) bool {
		return isSnapshot(m) && m.Snapshot.Session != nil && m.Snapshot.Session.ID != first.Snapshot.Session.ID
	})
	assert.NotEqual(t, first.Snapshot.Session.Address, msg.Snapshot.Session.Address)
	assert.Empty(t, msg.Snapshot.Messages)
}

func TestHub_ExpandRequiresMessageID(t *testing.T) {
	f := newFixture(t)
	_, token := f.newViewer(t)
	conn := f.dial(t, token)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeExpand}))
	msg := readUntil(t, conn, func(m Message) bool { return m.Type == MessageTypeError })
	assert.Contains(t, msg.Error, "messageId")
}

func TestHub_UnknownMessageType(t *testing.T) {
	f := newFixture(t)
	_, token := f.newViewer(t)
	conn := f.dial(t, token)

	require.NoError(t, conn.WriteJSON(Message{Type: "subscribe"}))
	msg := readUntil(t, conn, func(m Message) bool { return m.Type == MessageTypeError })
	assert.Contains(t, msg.Error, "subscribe")
}

func TestHub_DisconnectDetachesViewer(t *testing.T) {
	f := newFixture(t)
	v, token := f.newViewer(t)
	conn := f.dial(t, token)
	readUntil(t, conn, isSnapshot)

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()

	assert.Eventually(t, func() bool { return f.hub.Len() == 0 && v.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpgraderFactory_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "http://evil.example", true},
		{"listed origin", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"unlisted origin", []string{"http://localhost:3000"}, "http://evil.example", false},
		{"no origin header", []string{"http://localhost:3000"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := upgraderFactory(tt.allowed)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, u.CheckOrigin(req))
		})
	}
}

func TestHandleWebSocket_RejectsAfterHubStopped(t *testing.T) {
	f := newFixture(t)
	v, token := f.newViewer(t)

	f.stopHub()
	select {
	case <-f.hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, v.Connections())
}

func TestHub_StopClosesConnectedClients(t *testing.T) {
	f := newFixture(t)
	_, token := f.newViewer(t)

	conn := f.dial(t, token)
	readUntil(t, conn, isSnapshot)

	f.stopHub()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			}
			break
		}
	}
	assert.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
