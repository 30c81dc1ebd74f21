package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"smarthome/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes the per-connection behavior of a Hub.
type Options struct {
	// SendBuffer is the number of encoded messages queued per connection
	// before further messages are dropped for that connection.
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// DefaultOptions returns the options used by the server.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Hub fans notifications out to websocket connections and to in-process
// subscribers. Delivery is at-most-once with no replay.
type Hub struct {
	logger   *zap.Logger
	opts     Options
	upgrader websocket.Upgrader

	handlerMu sync.RWMutex
	handler   IntentHandler

	// emitMu serializes Broadcast so every connection and every local
	// subscriber observes the same emission order.
	emitMu sync.Mutex

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	subsMu      sync.RWMutex
	subscribers map[int]func(Message)
	nextSubID   int
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	return &Hub{
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are left to the CORS middleware.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients:     make(map[string]*client),
		subscribers: make(map[int]func(Message)),
	}
}

// SetIntentHandler installs the receiver of client intents. Intents read
// before a handler is installed are dropped.
func (h *Hub) SetIntentHandler(handler IntentHandler) {
	h.handlerMu.Lock()
	h.handler = handler
	h.handlerMu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and serves it until either
// side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "event bus closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
	}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast encodes payload once and queues it on every connection except
// the one whose id equals except, then hands it to local subscribers.
// Subscribers must not call Broadcast.
func (h *Hub) Broadcast(kind Kind, payload any, except string) {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", string(kind)), zap.Error(err))
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode envelope", zap.String("event", string(kind)), zap.Error(err))
		return
	}

	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	metrics.EventsBroadcast.WithLabelValues(string(kind)).Inc()

	sent := 0
	h.mu.RLock()
	for id, c := range h.clients {
		if id == except {
			continue
		}
		select {
		case c.send <- frame:
			sent++
		default:
			metrics.EventsDropped.WithLabelValues(string(kind)).Inc()
			h.logger.Debug("Send buffer full, dropping event",
				zap.String("client_id", id),
				zap.String("event", string(kind)))
		}
	}
	h.mu.RUnlock()

	h.subsMu.RLock()
	subscribers := make([]func(Message), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subscribers = append(subscribers, fn)
	}
	h.subsMu.RUnlock()

	for _, fn := range subscribers {
		fn(msg)
	}

	h.logger.Debug("Event broadcast",
		zap.String("event", string(kind)),
		zap.Int("recipients", sent),
		zap.String("except", except))
}

// Subscribe registers an in-process listener called synchronously for every
// broadcast. The returned func removes it.
func (h *Hub) Subscribe(fn func(Message)) (unsubscribe func()) {
	h.subsMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = fn
	h.subsMu.Unlock()

	return func() {
		h.subsMu.Lock()
		delete(h.subscribers, id)
		h.subsMu.Unlock()
	}
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones. Safe to call more
// than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, c := range h.clients {
		// writePump sends the close frame and closes the connection.
		close(c.send)
		delete(h.clients, id)
		metrics.ConnectedClients.Dec()
	}
	h.logger.Info("Event bus closed")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	h.logger.Info("Event bus client connected",
		zap.String("client_id", c.id),
		zap.Int("clients", count))
	return true
}

// unregister removes c. Only the caller that actually removes the client
// closes its send channel.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.id]
	if ok && current == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.ConnectedClients.Dec()
		h.logger.Info("Event bus client disconnected",
			zap.String("client_id", c.id),
			zap.Int("clients", count))
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		h.dispatch(c.id, data)
	}
}

func (h *Hub) dispatch(clientID string, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("Ignoring malformed frame", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	if !msg.Event.IsIntent() {
		h.logger.Debug("Ignoring unknown intent",
			zap.String("client_id", clientID),
			zap.String("event", string(msg.Event)))
		return
	}

	metrics.IntentsReceived.WithLabelValues(string(msg.Event)).Inc()

	h.handlerMu.RLock()
	handler := h.handler
	h.handlerMu.RUnlock()
	if handler == nil {
		h.logger.Debug("No intent handler installed", zap.String("event", string(msg.Event)))
		return
	}
	handler.HandleIntent(clientID, msg)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
