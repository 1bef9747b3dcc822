package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/steveyegge/bdviewd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []wire.Envelope
}

func (d *recordingDispatcher) Handle(ctx context.Context, sess *Session, env wire.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, env)

	reply, _ := wire.Reply(env.ID, map[string]string{"echo": env.Type})
	frame, _ := json.Marshal(reply)
	sess.enqueue(frame)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, hub *Hub) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, "test-session")
	})
	srv := httptest.NewServer(mux)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func TestHubRoundTripsRequestAndReply(t *testing.T) {
	disp := &recordingDispatcher{}
	hub := NewHub(disp, time.Minute, discardLogger())
	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := wire.Envelope{ID: "1", Type: wire.TypePing}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(reply, &env))
	assert.Equal(t, "1", env.ID)
	require.NotNil(t, env.OK)
	assert.True(t, *env.OK)
	assert.Equal(t, 1, disp.count())
}

func TestHubRejectsMalformedJSON(t *testing.T) {
	disp := &recordingDispatcher{}
	hub := NewHub(disp, time.Minute, discardLogger())
	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(reply, &env))
	assert.Equal(t, "unknown", env.ID)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(wire.KindBadJSON), env.Error.Code)
	assert.Equal(t, 0, disp.count(), "a malformed frame must never reach the dispatcher")
}

func TestHubRejectsUnknownType(t *testing.T) {
	disp := &recordingDispatcher{}
	hub := NewHub(disp, time.Minute, discardLogger())
	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := wire.Envelope{ID: "7", Type: "not-a-real-type"}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(reply, &env))
	assert.Equal(t, "7", env.ID)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(wire.KindUnknownType), env.Error.Code)
}

func TestHubBroadcastFiltersByAccept(t *testing.T) {
	disp := &recordingDispatcher{}
	hub := NewHub(disp, time.Minute, discardLogger())
	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the session before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Sessions()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, hub.Sessions(), 1)

	hub.Broadcast([]byte(`{"id":"","type":"issues-changed"}`), func(*Session) bool { return false })
	hub.Broadcast([]byte(`{"id":"","type":"issues-changed"}`), func(*Session) bool { return true })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(reply, &env))
	assert.Equal(t, wire.TypeIssuesChanged, env.Type)
}
