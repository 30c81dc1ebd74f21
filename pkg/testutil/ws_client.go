package testutil

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"smarthome/internal/events"

	"github.com/gorilla/websocket"
)

// WSClient is a raw event bus connection that records every notification
// it receives.
type WSClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	incoming chan events.Message
	mu       sync.Mutex
	received []events.Message
	done     chan struct{}
	once     sync.Once
}

// DialWS connects to the event bus of the server at baseURL (http://...).
func DialWS(baseURL string) (*WSClient, error) {
	url := "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &WSClient{
		conn:     conn,
		incoming: make(chan events.Message, 1024),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	defer close(c.incoming)
	for {
		var msg events.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.mu.Lock()
		c.received = append(c.received, msg)
		c.mu.Unlock()

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// Send emits an intent.
func (c *WSClient) Send(kind events.Kind, payload any) error {
	msg, err := events.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Next waits up to timeout for the next notification.
func (c *WSClient) Next(timeout time.Duration) (events.Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return events.Message{}, fmt.Errorf("connection closed")
		}
		return msg, nil
	case <-time.After(timeout):
		return events.Message{}, fmt.Errorf("no event within %s", timeout)
	}
}

// WaitFor skips notifications until one of the given kind arrives.
func (c *WSClient) WaitFor(kind events.Kind, timeout time.Duration) (events.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return events.Message{}, fmt.Errorf("no %s event within %s", kind, timeout)
		}
		msg, err := c.Next(remaining)
		if err != nil {
			return events.Message{}, err
		}
		if msg.Event == kind {
			return msg, nil
		}
	}
}

// ExpectNone reports whether nothing arrived during window.
func (c *WSClient) ExpectNone(window time.Duration) bool {
	_, err := c.Next(window)
	return err != nil
}

// Received returns every notification received so far.
func (c *WSClient) Received() []events.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Message(nil), c.received...)
}

// Close closes the connection. Safe to call more than once.
func (c *WSClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// FilterEvents returns the messages of the given kind
func FilterEvents(msgs []events.Message, kind events.Kind) []events.Message {
	var filtered []events.Message
	for _, m := range msgs {
		if m.Event == kind {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// FindEventForDevice finds the most recent message of the given kind that
// targets the device id
func FindEventForDevice(msgs []events.Message, kind events.Kind, id int) *events.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Event != kind {
			continue
		}
		p, _, err := msg.Patch()
		if err != nil {
			continue
		}
		if target, ok := p.Target(); ok && target == id {
			return &msg
		}
	}
	return nil
}
