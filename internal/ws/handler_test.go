package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive_engine/internal/config"
	"keepalive_engine/internal/logbus"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) logbus.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg logbus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandler_SnapshotThenLive(t *testing.T) {
	bus := logbus.New(10, zerolog.Nop())
	bus.Log("info", "before connect", nil)
	srv := httptest.NewServer(NewHandler(bus, config.CorsConfig{}))
	defer srv.Close()

	conn := dial(t, srv, "")
	first := readMsg(t, conn)
	assert.Equal(t, "log", first.Type)

	// The snapshot and the subscription are taken together, so a single
	// publish after the snapshot arrives is delivered exactly once.
	bus.Publish("status", map[string]any{"accountId": 1})
	live := readMsg(t, conn)
	assert.Equal(t, "status", live.Type)
}

func TestHandler_TypeFilter(t *testing.T) {
	bus := logbus.New(10, zerolog.Nop())
	bus.Log("info", "noise", nil)
	bus.Publish("run", map[string]any{"runId": "r1"})
	srv := httptest.NewServer(NewHandler(bus, config.CorsConfig{}))
	defer srv.Close()

	conn := dial(t, srv, "?types=run")
	msg := readMsg(t, conn)
	assert.Equal(t, "run", msg.Type)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, config.CorsConfig{AllowOrigins: []string{"http://ui.local"}})

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, h.checkOrigin(r), "no origin header")

	r.Header.Set("Origin", "http://UI.local")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "http://evil.local")
	assert.False(t, h.checkOrigin(r))

	assert.False(t, NewHandler(nil, config.CorsConfig{}).checkOrigin(r))
	assert.True(t, NewHandler(nil, config.CorsConfig{AllowOrigins: []string{"*"}}).checkOrigin(r))
}
