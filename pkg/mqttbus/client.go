package mqttbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected is returned when publishing or subscribing without a
// live broker session.
var ErrNotConnected = errors.New("mqttbus: not connected")

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqttbus: timed out waiting for broker")

// Handler receives an inbound message.
type Handler func(topic string, payload []byte)

// broker is the subset of mqtt.Client used here.
type broker interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Client is an MQTT session that re-subscribes on every (re)connect.
type Client struct {
	cfg    Config
	logger *slog.Logger

	newBroker func(*mqtt.ClientOptions) broker

	mu       sync.RWMutex
	conn     broker
	closed   bool
	subs     map[string]Handler
	onChange []func(connected bool)

	connected atomic.Bool
	// session identifies the current connect attempt; callbacks from
	// abandoned attempts are ignored.
	session atomic.Uint64

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	publishErrors    atomic.Int64
	reconnectCount   atomic.Int64
}

// New creates a new MQTT client.
// Call Connect() to establish the session.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mvsense-" + uuid.NewString()[:8]
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		newBroker: func(opts *mqtt.ClientOptions) broker {
			return mqtt.NewClient(opts)
		},
		subs: make(map[string]Handler),
	}, nil
}

// OnConnectionChange registers fn to be called with the new state after
// every connect and every lost connection.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Client) options(session uint64) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL()).
		SetClientID(c.cfg.ClientID).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(func(mqtt.Client) {
			if c.session.Load() == session {
				c.handleConnect()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if c.session.Load() == session {
				c.handleConnectionLost(err)
			}
		})
	if c.cfg.ReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(c.cfg.ReconnectInterval)
	}
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	return opts
}

// Connect establishes the broker session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil // Already connected
	}
	session := c.session.Add(1)
	conn := c.newBroker(c.options(session))
	c.mu.Unlock()

	c.logger.Info("connecting to MQTT broker",
		"broker", c.cfg.BrokerURL(),
		"client_id", c.cfg.ClientID,
		"keepalive", c.cfg.KeepAlive,
	)

	if err := c.wait(ctx, conn.Connect()); err != nil {
		// Stop the abandoned attempt so it cannot come up later under the
		// same client ID.
		c.session.Add(1)
		conn.Disconnect(0)
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.BrokerURL(), err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Disconnect(0)
		return io.ErrClosedPipe
	}
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	c.resubscribe(conn)
	return nil
}

// ConnectWithRetry connects with automatic retry on failure.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return err
		}

		attempts++
		c.reconnectCount.Add(1)

		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("mqtt connection failed, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", c.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// handleConnect runs on the library's goroutine after every successful
// connect, including automatic reconnects.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.logger.Info("connected to MQTT broker", "broker", c.cfg.BrokerURL())

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	// The first OnConnect can fire before Connect stores the session;
	// Connect subscribes in that case.
	if conn != nil {
		c.resubscribe(conn)
	}

	c.notify(true)
}

func (c *Client) resubscribe(conn broker) {
	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.RUnlock()

	for topic, h := range subs {
		if err := c.subscribe(context.Background(), conn, topic, h); err != nil {
			c.logger.Error("resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)
	c.reconnectCount.Add(1)
	c.logger.Warn("mqtt connection lost", "error", err)
	c.notify(false)
}

func (c *Client) notify(connected bool) {
	c.mu.RLock()
	fns := append([]func(bool){}, c.onChange...)
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// IsConnected returns true if the broker session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.closed && c.connected.Load()
}

// Subscribe registers handler for topic. The subscription is renewed on
// every reconnect. If the session is up it is subscribed immediately.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	c.subs[topic] = handler
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.connected.Load() {
		c.logger.Debug("subscription deferred until connect", "topic", topic)
		return nil
	}
	return c.subscribe(ctx, conn, topic, handler)
}

func (c *Client) subscribe(ctx context.Context, conn broker, topic string, handler Handler) error {
	tok := conn.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.messagesReceived.Add(1)
		handler(msg.Topic(), msg.Payload())
	})
	if err := c.wait(ctx, tok); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.logger.Debug("subscribed to topic", "topic", topic)
	return nil
}

// Publish sends a string payload to topic.
func (c *Client) Publish(topic, payload string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !c.connected.Load() {
		c.publishErrors.Add(1)
		return ErrNotConnected
	}

	if err := c.wait(context.Background(), conn.Publish(topic, c.cfg.QoS, c.cfg.Retain, payload)); err != nil {
		c.publishErrors.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	c.messagesSent.Add(1)
	return nil
}

// wait blocks until tok completes, ctx ends or the connect timeout passes.
func (c *Client) wait(ctx context.Context, tok mqtt.Token) error {
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ConnectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// Close disconnects from the broker and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		c.conn.Disconnect(250)
		c.conn = nil
	}
	c.connected.Store(false)

	c.logger.Info("mqtt client closed")
	return nil
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		PublishErrors:    c.publishErrors.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	PublishErrors    int64 `json:"publish_errors"`
	ReconnectCount   int64 `json:"reconnect_count"`
}
