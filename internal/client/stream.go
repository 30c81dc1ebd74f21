package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"smarthome/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Emit while the stream has no connection.
var ErrNotConnected = errors.New("event stream not connected")

// EventHandler receives notifications read from the stream
type EventHandler func(msg events.Message)

// Stream is a websocket connection to the server's event bus. After an
// unexpected disconnect it reconnects with exponential backoff until Close
// is called.
type Stream struct {
	url    string
	logger *zap.Logger

	conn      *websocket.Conn
	connected bool
	dialing   bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex

	handlers      map[int]EventHandler
	statusFns     map[int]func(connected bool)
	handlersMu    sync.RWMutex
	nextHandlerID int

	ctx        context.Context
	cancel     context.CancelFunc
	reconnect  bool
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewStream creates a stream for the server at baseURL (http or https);
// the websocket endpoint is derived from it.
func NewStream(baseURL string, logger *zap.Logger) (*Stream, error) {
	wsURL, err := streamURL(baseURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		url:        wsURL,
		logger:     logger,
		handlers:   make(map[int]EventHandler),
		statusFns:  make(map[int]func(bool)),
		ctx:        ctx,
		cancel:     cancel,
		reconnect:  true,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}, nil
}

func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// SetBackoff overrides the reconnect delays.
func (s *Stream) SetBackoff(minDelay, maxDelay time.Duration) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.minBackoff = minDelay
	s.maxBackoff = maxDelay
}

// Connect dials the event bus and starts the receive loop. The lock is not
// held while dialing, so state queries and Close stay responsive against a
// slow or unreachable server.
func (s *Stream) Connect(ctx context.Context) error {
	s.connMu.Lock()
	if s.connected {
		s.connMu.Unlock()
		return fmt.Errorf("already connected")
	}
	if s.dialing {
		s.connMu.Unlock()
		return fmt.Errorf("connect already in progress")
	}
	if s.ctx.Err() != nil {
		s.connMu.Unlock()
		return fmt.Errorf("stream closed")
	}
	s.dialing = true
	s.connMu.Unlock()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)

	s.connMu.Lock()
	s.dialing = false
	if err != nil {
		s.connMu.Unlock()
		return fmt.Errorf("failed to connect to event bus: %w", err)
	}
	if s.ctx.Err() != nil {
		// Closed while dialing.
		s.connMu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("stream closed")
	}
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()

	s.logger.Info("Connected to event bus", zap.String("url", s.url))
	s.notifyStatus(true)

	go s.receiveMessages(conn)
	return nil
}

// Start connects in the background. If the first attempt fails it keeps
// retrying with backoff until it succeeds or the stream is closed.
func (s *Stream) Start() {
	go func() {
		if err := s.Connect(s.ctx); err != nil {
			s.logger.Warn("Event bus unavailable, retrying", zap.Error(err))
			s.attemptReconnect()
		}
	}()
}

// Close stops reconnecting and closes the connection
func (s *Stream) Close() error {
	s.cancel()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.reconnect = false

	if !s.connected {
		return nil
	}
	s.connected = false

	if s.conn != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		_ = s.conn.Close()
		s.conn = nil
	}

	s.logger.Info("Disconnected from event bus")
	return nil
}

// IsConnected returns true if the stream currently has a connection
func (s *Stream) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected
}

// Emit sends an intent to the server.
func (s *Stream) Emit(kind events.Kind, payload any) error {
	msg, err := events.NewMessage(kind, payload)
	if err != nil {
		return err
	}

	s.connMu.RLock()
	conn := s.conn
	connected := s.connected
	s.connMu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return nil
}

// OnEvent registers a handler for every notification. The returned func
// removes it.
func (s *Stream) OnEvent(handler EventHandler) func() {
	s.handlersMu.Lock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.handlers[id] = handler
	s.handlersMu.Unlock()

	return func() {
		s.handlersMu.Lock()
		delete(s.handlers, id)
		s.handlersMu.Unlock()
	}
}

// OnConnectionChange registers a callback run whenever the stream connects
// or loses its connection. Events missed while disconnected are not
// replayed, so a reconnect is the signal to re-fetch state.
func (s *Stream) OnConnectionChange(fn func(connected bool)) func() {
	s.handlersMu.Lock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.statusFns[id] = fn
	s.handlersMu.Unlock()

	return func() {
		s.handlersMu.Lock()
		delete(s.statusFns, id)
		s.handlersMu.Unlock()
	}
}

// receiveMessages reads notifications until the connection fails
func (s *Stream) receiveMessages(conn *websocket.Conn) {
	for {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("Failed to read event", zap.Error(err))
			}
			s.handleDisconnect(conn)
			return
		}

		s.handlersMu.RLock()
		handlers := make([]EventHandler, 0, len(s.handlers))
		for _, h := range s.handlers {
			handlers = append(handlers, h)
		}
		s.handlersMu.RUnlock()

		for _, h := range handlers {
			h(msg)
		}
	}
}

// handleDisconnect handles connection loss
func (s *Stream) handleDisconnect(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn != conn {
		// Already replaced or closed.
		s.connMu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	reconnect := s.reconnect
	s.connMu.Unlock()

	_ = conn.Close()
	s.logger.Warn("Event bus connection lost")
	s.notifyStatus(false)

	if reconnect {
		go s.attemptReconnect()
	}
}

// attemptReconnect tries to reconnect with exponential backoff
func (s *Stream) attemptReconnect() {
	s.connMu.RLock()
	backoff := s.minBackoff
	maxBackoff := s.maxBackoff
	s.connMu.RUnlock()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}

		s.logger.Info("Attempting to reconnect to event bus")

		if err := s.Connect(s.ctx); err != nil {
			s.logger.Debug("Reconnection failed", zap.Error(err), zap.Duration("backoff", backoff))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		s.logger.Info("Reconnected to event bus")
		return
	}
}

func (s *Stream) notifyStatus(connected bool) {
	s.handlersMu.RLock()
	fns := make([]func(bool), 0, len(s.statusFns))
	for _, fn := range s.statusFns {
		fns = append(fns, fn)
	}
	s.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(connected)
	}
}
