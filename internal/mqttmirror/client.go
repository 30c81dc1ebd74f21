package mqttmirror

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxReconnectInterval     = 30 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

var (
	// ErrNotConnected is returned when publishing without a broker connection.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrPublishFailed wraps broker-side publish failures and timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// Publisher is the broker surface the mirror needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Options configures the broker connection.
type Options struct {
	// Broker is a URL such as tcp://localhost:1883, mqtt://user:pw@host:1883
	// or ssl://host:8883.
	Broker   string
	ClientID string
	Topics   Topics
}

// Client is a paho connection that announces the server's availability on
// the status topic, with a last will for unexpected disconnects.
type Client struct {
	client pahomqtt.Client
	topics Topics
	logger *zap.Logger

	connected bool
	connMu    sync.RWMutex
}

// Connect dials the broker and publishes "online" on the status topic.
func Connect(opts Options, logger *zap.Logger) (*Client, error) {
	pahoOpts, err := buildClientOptions(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{topics: opts.Topics, logger: logger}

	pahoOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
		c.logger.Info("MQTT connected", zap.String("broker", opts.Broker))
		c.client.Publish(c.topics.Status(), 1, true, []byte(statusOnline))
	})
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout after %v", opts.Broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, err)
	}

	// The connect handler runs asynchronously and may not have fired yet.
	c.setConnected(true)
	return c, nil
}

// buildClientOptions translates Options into paho options.
func buildClientOptions(opts Options) (*pahomqtt.ClientOptions, error) {
	u, err := url.Parse(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT broker %q: %w", opts.Broker, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid MQTT broker %q: missing host", opts.Broker)
	}

	var server string
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + u.Host
	case "ssl", "tls", "mqtts":
		server = "ssl://" + u.Host
	case "ws", "wss":
		server = u.Scheme + "://" + u.Host + u.Path
	default:
		return nil, fmt.Errorf("invalid MQTT broker %q: unsupported scheme %q", opts.Broker, u.Scheme)
	}

	p := pahomqtt.NewClientOptions()
	p.AddBroker(server)
	p.SetClientID(opts.ClientID)
	if u.User != nil {
		pw, _ := u.User.Password()
		p.SetUsername(u.User.Username())
		p.SetPassword(pw)
	}
	if strings.HasPrefix(server, "ssl://") || u.Scheme == "wss" {
		p.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	p.SetCleanSession(true)
	p.SetAutoReconnect(true)
	p.SetConnectRetry(true)
	p.SetMaxReconnectInterval(maxReconnectInterval)
	p.SetConnectTimeout(defaultConnectTimeout)
	p.SetKeepAlive(defaultKeepAlive)
	p.SetWill(opts.Topics.Status(), statusOffline, 1, true)

	return p, nil
}

// Publish sends payload at QoS 1.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Close publishes "offline" and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), 1, true, []byte(statusOffline))
		if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
			c.logger.Warn("Failed to publish MQTT offline status", zap.Error(token.Error()))
		}
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}
