package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFeed(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHub(nil)
	go h.Run(ctx)

	srv := NewServer(h, Options{PingInterval: time.Second}, func() interface{} {
		return map[string]string{"active_session_id": "s1"}
	}, nil)
	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return h, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func waitForConnections(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ConnectionCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestFeedSendsStateThenEvents(t *testing.T) {
	h, url := startFeed(t)
	conn := dial(t, url)

	first := readJSON(t, conn)
	assert.Equal(t, "state", first["type"])
	assert.Equal(t, "s1", first["state"].(map[string]interface{})["active_session_id"])

	waitForConnections(t, h, 1)
	require.NoError(t, h.BroadcastJSON("", map[string]string{"type": "sessions_changed"}))
	assert.Equal(t, "sessions_changed", readJSON(t, conn)["type"])
}

func TestFeedFiltersBySession(t *testing.T) {
	h, url := startFeed(t)
	watcher := dial(t, url+"?session_id=a")
	readJSON(t, watcher)
	waitForConnections(t, h, 1)

	require.NoError(t, h.BroadcastJSON("b", map[string]string{"type": "message_appended", "session_id": "b"}))
	require.NoError(t, h.BroadcastJSON("a", map[string]string{"type": "message_appended", "session_id": "a"}))

	got := readJSON(t, watcher)
	assert.Equal(t, "a", got["session_id"])
}

func TestFeedUnregistersOnClose(t *testing.T) {
	h, url := startFeed(t)
	conn := dial(t, url)
	readJSON(t, conn)
	waitForConnections(t, h, 1)

	conn.Close()
	waitForConnections(t, h, 0)
}
