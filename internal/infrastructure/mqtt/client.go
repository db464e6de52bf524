package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
)

// newPahoClient constructs the underlying paho client.
// Overridable in tests.
var newPahoClient = pahomqtt.NewClient

// Client wraps paho.mqtt.golang with Hearth-specific functionality.
//
// It bridges paho's callback-driven network goroutine into a bounded
// inbound queue consumed through NextMessage, tracks subscriptions for
// automatic replay after reconnects, and keeps observable counters for
// everything it absorbs.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - NextMessage is intended for a single consumer; FIFO order is only
//     meaningful with one reader.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	// queue is the bounded handoff from the network goroutine.
	queue *inboundQueue

	// subscriptions tracks topic → QoS for replay on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	connectTotal    atomic.Uint64
	disconnectTotal atomic.Uint64
	publishErrTotal atomic.Uint64
	lastDisconnect  atomic.Value // string

	// logger for error logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Stats is a point-in-time snapshot of client counters.
// Every absorbed failure shows up here; nothing is dropped silently.
type Stats struct {
	Connected bool

	QueueDepth    int
	QueueCapacity int
	MaxQueueDepth int

	ReceivedTotal   uint64
	DroppedTotal    uint64
	ConnectTotal    uint64
	DisconnectTotal uint64
	PublishErrTotal uint64

	// LastDisconnectReason is the error text from the most recent
	// connection loss. The paho v1 API does not expose CONNACK codes,
	// so the reason string stands in for a result code.
	LastDisconnectReason string
}

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Sets up auto-reconnect with bounded exponential backoff
//  4. Attempts the initial connection, blocking until the first
//     acknowledgment or the connect timeout
//  5. Publishes online status to <base>/system/status
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectTimeout if no acknowledgment arrives in time,
//     ErrConnectionFailed for any other initial failure
func Connect(cfg config.MQTTConfig) (*Client, error) {
	topics := Topics{Base: cfg.BaseTopic}
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		topics:        topics,
		queue:         newInboundQueue(cfg.QueueSize),
		subscriptions: make(map[string]byte),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = newPahoClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no acknowledgment after %v", ErrConnectTimeout, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Set connected state immediately after successful connection.
	// The OnConnectHandler callback runs asynchronously and may not
	// have executed yet.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// Topics returns the topic builder bound to this client's base topic.
func (c *Client) Topics() Topics {
	return c.topics
}

// NextMessage yields the next inbound message in arrival order,
// blocking until one is available or ctx is done.
//
// Exactly-once delivery to a single reader: each message is handed to
// whichever NextMessage call receives it, and order is only defined
// with one consuming goroutine.
func (c *Client) NextMessage(ctx context.Context) (Message, error) {
	return c.queue.next(ctx)
}

// handleConnect is called by paho on the initial connect and on every
// reconnect. The session is not persistent, so tracked subscriptions
// are replayed here.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	c.connectTotal.Add(1)

	c.restoreSubscriptions()
	c.publishOnlineStatus()
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.disconnectTotal.Add(1)
	if err != nil {
		c.lastDisconnect.Store(err.Error())
	}

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

// restoreSubscriptions re-issues all tracked subscriptions after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, qos := range c.subscriptions {
		// Best effort during reconnection; failures surface as silence
		// on the topic and are retried on the next reconnect.
		c.client.Subscribe(topic, qos, c.onMessage)
	}
}

// onMessage is the single paho message handler. It runs on paho's
// router goroutine and must not touch consumer state: the only thing
// it does is hand the message to the bounded queue.
func (c *Client) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.queue.enqueue(Message{
		Topic:   msg.Topic(),
		Payload: msg.Payload(),
	})
}

// publishOnlineStatus publishes a retained online status message.
func (c *Client) publishOnlineStatus() {
	payload := buildOnlinePayload(c.cfg.Broker.ClientID)
	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (distinct from the LWT crash
// status), then disconnects with a bounded quiesce period. Close
// returns even if the network goroutine does not exit promptly.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		payload := buildOfflinePayload(c.cfg.Broker.ClientID)
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultOperationTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	reason, _ := c.lastDisconnect.Load().(string)
	return Stats{
		Connected:            c.IsConnected(),
		QueueDepth:           c.queue.depth(),
		QueueCapacity:        c.queue.capacity(),
		MaxQueueDepth:        int(c.queue.maxDepth.Load()),
		ReceivedTotal:        c.queue.received.Load(),
		DroppedTotal:         c.queue.dropped.Load(),
		ConnectTotal:         c.connectTotal.Load(),
		DisconnectTotal:      c.disconnectTotal.Load(),
		PublishErrTotal:      c.publishErrTotal.Load(),
		LastDisconnectReason: reason,
	}
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// SetLogger sets a logger for connection and publish error logging.
// If not set, absorbed errors are visible only through Stats.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
