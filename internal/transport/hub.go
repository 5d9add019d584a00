// Package transport fans live session updates out to WebSocket
// clients. Each client may follow one session at a time; lifecycle
// events reach every connected client.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/fleet/internal/observability"
	"github.com/haasonsaas/fleet/internal/transcript"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second

	sendQueueSize = 64
)

// TailControl is the tail lifecycle the hub drives: one Subscribe per
// client following a session, one Release when it stops.
type TailControl interface {
	Subscribe(sessionID string) error
	Release(sessionID string)
}

// nopTail is used when the hub runs without a tailer (tests).
type nopTail struct{}

func (nopTail) Subscribe(string) error { return nil }
func (nopTail) Release(string)         {}

// clientFrame is what browsers send: subscribe or unsubscribe.
type clientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// Hub owns the connection registry and the per-session subscription
// map.
type Hub struct {
	tails    TailControl
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	subs     map[string]map[*client]struct{}
	shutdown bool
}

// client is one WebSocket connection with its outbound queue.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	id   string

	// sessionID is the current subscription; guarded by hub.mu.
	sessionID string

	closeOnce sync.Once
}

// NewHub builds a hub. tails and metrics may be nil.
func NewHub(tails TailControl, metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if tails == nil {
		tails = nopTail{}
	}
	return &Hub{
		tails:   tails,
		metrics: metrics,
		logger:  logger.With("component", "transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
		subs:    make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it
// closes. The upgrader replies 400 on its own when the handshake is
// not a WebSocket upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
		id:   uuid.NewString(),
	}

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.logger.Debug("client connected", "client", c.id)

	go c.writeLoop()
	c.readLoop()
}

func (c *client) readLoop() {
	defer c.teardown()

	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeClientFrame(data)
		if err != nil {
			c.hub.sendError(c, "bad-frame", err.Error())
			continue
		}

		switch frame.Type {
		case "subscribe":
			c.hub.subscribe(c, frame.SessionID)
		case "unsubscribe":
			c.hub.unsubscribe(c)
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown unregisters the client and releases its tail subscription.
func (c *client) teardown() {
	h := c.hub
	h.mu.Lock()
	_, registered := h.clients[c]
	delete(h.clients, c)
	released := h.dropSubscriptionLocked(c)
	h.mu.Unlock()

	if released != "" {
		h.tails.Release(released)
	}
	if registered && h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	c.closeConn()
	h.logger.Debug("client disconnected", "client", c.id)
}

func (c *client) closeConn() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue queues a frame without ever blocking fan-out. When the
// client's queue is full the oldest pending frame is dropped; the
// client recovers by refetching the baseline after reconnect.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// subscribe points the client at a session, replacing any previous
// subscription.
func (h *Hub) subscribe(c *client, sessionID string) {
	h.mu.Lock()
	if c.sessionID == sessionID {
		h.mu.Unlock()
		return
	}
	previous := h.dropSubscriptionLocked(c)
	h.mu.Unlock()

	if previous != "" {
		h.tails.Release(previous)
	}

	if err := h.tails.Subscribe(sessionID); err != nil {
		h.logger.Warn("subscribe failed", "client", c.id, "session", sessionID, "error", err)
		h.sendError(c, "subscribe-failed", err.Error())
		return
	}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.subs[sessionID] = set
	}
	set[c] = struct{}{}
	c.sessionID = sessionID
	h.mu.Unlock()

	h.logger.Debug("client subscribed", "client", c.id, "session", sessionID)
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	released := h.dropSubscriptionLocked(c)
	h.mu.Unlock()

	if released != "" {
		h.tails.Release(released)
	}
}

// dropSubscriptionLocked removes the client from its session set and
// returns the session id the caller must release, or "".
func (h *Hub) dropSubscriptionLocked(c *client) string {
	sessionID := c.sessionID
	if sessionID == "" {
		return ""
	}
	c.sessionID = ""
	if set, ok := h.subs[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
	return sessionID
}

// sendError replies with an error frame; the connection stays open.
func (h *Hub) sendError(c *client, code, message string) {
	h.sendTo(c, "error", map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	})
}

func (h *Hub) sendTo(c *client, frameType string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("frame marshal failed", "type", frameType, "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordFrame(frameType)
	}
	c.enqueue(data)
}

// BroadcastBatch delivers a message batch to the session's
// subscribers, in the order batches arrive.
func (h *Hub) BroadcastBatch(batch transcript.MessageBatch) {
	messages := batch.Messages
	if messages == nil {
		messages = []transcript.ParsedMessage{}
	}
	frame := map[string]any{
		"type":      "messages",
		"sessionId": batch.SessionID,
		"messages":  messages,
		"byteRange": batch.ByteRange,
	}
	h.mu.Lock()
	targets := make([]*client, 0, len(h.subs[batch.SessionID]))
	for c := range h.subs[batch.SessionID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.sendTo(c, "messages", frame)
	}
}

// broadcastAll sends a lifecycle frame to every connected client.
func (h *Hub) broadcastAll(frameType string, frame any) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.sendTo(c, frameType, frame)
	}
}

// SessionStarted implements the controller event sink.
func (h *Hub) SessionStarted(sessionID, projectID, cwd string, startedAt time.Time) {
	h.broadcastAll("session:started", map[string]any{
		"type":      "session:started",
		"sessionId": sessionID,
		"projectId": projectID,
		"cwd":       cwd,
		"startedAt": startedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) SessionStopped(sessionID, reason string, stoppedAt time.Time) {
	h.broadcastAll("session:stopped", map[string]any{
		"type":      "session:stopped",
		"sessionId": sessionID,
		"reason":    reason,
		"stoppedAt": stoppedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) SessionError(sessionID, errText string, occurredAt time.Time) {
	h.broadcastAll("session:error", map[string]any{
		"type":       "session:error",
		"sessionId":  sessionID,
		"error":      errText,
		"occurredAt": occurredAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) SessionActivity(sessionID string, updatedAt time.Time) {
	h.broadcastAll("session:activity", map[string]any{
		"type":      "session:activity",
		"sessionId": sessionID,
		"updatedAt": updatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ClientCount reports currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SubscriberCount reports clients following the session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Shutdown closes every connection without broadcasting and releases
// every tail subscription. Further upgrades are refused.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	var released []string
	for _, c := range clients {
		if id := h.dropSubscriptionLocked(c); id != "" {
			released = append(released, id)
		}
	}
	h.subs = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, id := range released {
		h.tails.Release(id)
	}
	for _, c := range clients {
		c.closeConn()
		if h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
	}
}
