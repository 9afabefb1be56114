package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/auth"
)

func testAuthenticator(_ context.Context, token string) (auth.User, error) {
	switch token {
	case "good-token":
		return auth.User{AdminID: "admin-1", Username: "frontdesk", Type: auth.TokenTypeAccess}, nil
	case "broken-lookup":
		return auth.User{}, errors.New("database is locked")
	default:
		return auth.User{}, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid)
	}
}

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	router := chi.NewRouter()
	RegisterRoutes(router, hub, testAuthenticator)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message map[string]any
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsBadTokens(t *testing.T) {
	hub := NewHub(Options{}, nil)
	t.Cleanup(hub.Close)
	url := startServer(t, hub)

	for _, token := range []string{"", "expired", "broken-lookup"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake, "token %q", token)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "token %q", token)
		resp.Body.Close()
	}
	assert.Zero(t, hub.ConnectionCount())
}

func TestConnectionEstablishedAndPing(t *testing.T) {
	hub := NewHub(Options{}, nil)
	t.Cleanup(hub.Close)
	conn := dial(t, startServer(t, hub), "good-token")

	established := readMessage(t, conn)
	assert.Equal(t, TypeConnectionEstablished, established["type"])
	assert.NotEmpty(t, established["timestamp"])
	data := established["data"].(map[string]any)
	assert.Equal(t, "admin-1", data["admin_id"])
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, TypePong, readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	assert.Equal(t, TypeError, readMessage(t, conn)["type"])
}

func TestBroadcastHonoursTopics(t *testing.T) {
	hub := NewHub(Options{}, nil)
	t.Cleanup(hub.Close)
	url := startServer(t, hub)

	subscriber := dial(t, url, "good-token")
	other := dial(t, url, "good-token")
	readMessage(t, subscriber)
	readMessage(t, other)

	require.NoError(t, subscriber.WriteJSON(map[string]any{
		"type": "subscribe",
		"data": map[string]any{"topics": []string{"devices", "pms"}},
	}))
	confirmed := readMessage(t, subscriber)
	assert.Equal(t, TypeSubscriptionConfirmed, confirmed["type"])

	hub.Broadcast("device_registered", map[string]any{"device_id": "tv-42"}, "devices")
	event := readMessage(t, subscriber)
	assert.Equal(t, "device_registered", event["type"])
	assert.Equal(t, "tv-42", event["data"].(map[string]any)["device_id"])

	// an empty topic reaches every connection; the unsubscribed one sees only this
	hub.Broadcast("system_health", map[string]any{"ok": true}, "")
	assert.Equal(t, "system_health", readMessage(t, subscriber)["type"])
	assert.Equal(t, "system_health", readMessage(t, other)["type"])

	require.NoError(t, subscriber.WriteJSON(map[string]any{
		"type": "unsubscribe",
		"data": map[string]any{"topic": "devices"},
	}))
	assert.Equal(t, TypeUnsubscriptionConfirmed, readMessage(t, subscriber)["type"])

	hub.Broadcast("device_updated", nil, "devices")
	hub.Broadcast("pms_sync_completed", nil, "pms")
	assert.Equal(t, "pms_sync_completed", readMessage(t, subscriber)["type"])
}

// serverConn returns the server side of a websocket without starting the hub pumps.
func serverConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(server.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-accepted:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the websocket")
		return nil, nil
	}
}

func adopt(hub *Hub, ws *websocket.Conn, buffer int) *connection {
	c := &connection{
		id:     "conn-" + ws.LocalAddr().String(),
		ws:     ws,
		send:   make(chan []byte, buffer),
		topics: make(map[string]struct{}),
	}
	c.touch()
	hub.mu.Lock()
	hub.conns[c.id] = c
	hub.mu.Unlock()
	return c
}

func TestFullBufferEvictsWithoutBlocking(t *testing.T) {
	hub := NewHub(Options{}, nil)
	t.Cleanup(hub.Close)
	ws, _ := serverConn(t)
	c := adopt(hub, ws, 1)

	done := make(chan struct{})
	go func() {
		hub.Broadcast("first", nil, "")
		hub.Broadcast("second", nil, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow connection")
	}

	assert.Zero(t, hub.ConnectionCount())
	assert.False(t, c.enqueue([]byte("late")))
}

func TestSweepEvictsStaleConnections(t *testing.T) {
	hub := NewHub(Options{PingInterval: time.Second}, nil)
	t.Cleanup(hub.Close)

	staleWS, _ := serverConn(t)
	stale := adopt(hub, staleWS, 4)
	stale.lastActivity.Store(time.Now().Add(-3 * time.Second).UnixNano())

	freshWS, _ := serverConn(t)
	adopt(hub, freshWS, 4)

	hub.sweep(time.Now())
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.False(t, stale.enqueue([]byte("x")))
}

func TestClientDisconnectRemovesConnection(t *testing.T) {
	hub := NewHub(Options{}, nil)
	t.Cleanup(hub.Close)
	conn := dial(t, startServer(t, hub), "good-token")
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	hub := NewHub(Options{PingInterval: 50 * time.Millisecond}, nil)
	hub.Start()
	conn := dial(t, startServer(t, hub), "good-token")
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	hub.Close()
	hub.Close()
	assert.Zero(t, hub.ConnectionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
