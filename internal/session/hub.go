package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/steveyegge/bdviewd/internal/metrics"
	"github.com/steveyegge/bdviewd/internal/wire"
)

// Tunables for the connection keepalive, grounded on the nixfleet
// dashboard hub's ping/pong loop (other_examples' dashboard-hub.go.go)
// and spec.md §4.9's "heartbeat interval, default 30s, configurable".
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	maxMessage = 1 << 20 // 1 MiB; a browser frame is never larger than this
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dispatcher handles one decoded client request for a session. The
// daemon package implements this, routing by envelope type to
// registry/scheduler/mutate; kept as an interface so this package has
// no dependency on the dispatch table.
type Dispatcher interface {
	Handle(ctx context.Context, sess *Session, env wire.Envelope)
}

// Conn is a single upgraded WebSocket connection paired with its
// Session, grounded on the nixfleet dashboard hub's Client type and
// whisper-darkly-sticky-dvr's gorilla/websocket usage.
type Conn struct {
	sess   *Session
	ws     *websocket.Conn
	hub    *Hub
	logger *slog.Logger
}

// Hub tracks every live connection so mutation fan-out and disconnect
// cleanup can enumerate sessions without the transport layer reaching
// back into the registry directly.
type Hub struct {
	heartbeat time.Duration
	dispatch  Dispatcher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	conns map[string]*Conn
}

// SetMetrics attaches m so connection counts are recorded; nil is
// safe and leaves counting disabled.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// NewHub returns a Hub that routes decoded requests to dispatch and
// pings connections every heartbeat (0 selects the 30s default).
func NewHub(dispatch Dispatcher, heartbeat time.Duration, logger *slog.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		heartbeat: heartbeat,
		dispatch:  dispatch,
		logger:    logger,
		conns:     make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection, registers
// its session, and blocks running the read/write pumps until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := New(sessionID)
	c := &Conn{sess: sess, ws: ws, hub: h, logger: h.logger}

	h.mu.Lock()
	h.conns[sessionID] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Connections.Add(r.Context(), 1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.readPump(r.Context())
	}()
	wg.Wait()

	h.mu.Lock()
	delete(h.conns, sessionID)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Connections.Add(context.Background(), -1)
	}
}

// Broadcast delivers frame to every connected session for which accept
// returns true, used by internal/mutate's fan-out policy (spec.md
// §4.8). accept receives each session so the caller can apply its own
// targeted-recipient logic.
func (h *Hub) Broadcast(frame []byte, accept func(*Session) bool) {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.conns))
	for _, c := range h.conns {
		if accept == nil || accept(c.sess) {
			targets = append(targets, c.sess)
		}
	}
	h.mu.Unlock()

	for _, sess := range targets {
		sess.enqueue(frame)
	}
}

// Sessions returns a snapshot of every currently connected session.
func (h *Hub) Sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.sess)
	}
	return out
}

// readPump reads client frames until the connection errors or closes,
// decoding each into a wire.Envelope and handing it to the dispatcher.
// Malformed JSON gets a bad-json error reply with correlation id
// "unknown", per spec.md §7, rather than closing the connection.
func (c *Conn) readPump(ctx context.Context) {
	defer c.ws.Close()
	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			reply := wire.ErrorReply("unknown", wire.KindBadJSON, "malformed request frame", nil)
			if frame, merr := json.Marshal(reply); merr == nil {
				c.sess.enqueue(frame)
			}
			continue
		}
		if !wire.RequestTypes[env.Type] {
			reply := wire.ErrorReply(env.ID, wire.KindUnknownType, "unknown request type: "+env.Type, nil)
			if frame, merr := json.Marshal(reply); merr == nil {
				c.sess.enqueue(frame)
			}
			continue
		}

		c.hub.dispatch.Handle(ctx, c.sess, env)
	}
}

// writePump drains the session's outbound queue to the socket and
// sends periodic pings, grounded on the nixfleet dashboard hub's
// writePump (other_examples' dashboard-hub.go.go).
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.heartbeat)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sess.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
