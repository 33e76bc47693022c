package sparkplug

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// eventBufferSize is the event channel depth. The dispatch loop only
	// decodes and enqueues, so the channel drains quickly; the buffer
	// absorbs short bursts without stalling transport goroutines.
	eventBufferSize = 256

	// subscribeAllFilter receives every topic; the client must tolerate
	// foreign, non-protocol traffic sharing the broker.
	subscribeAllFilter = "#"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Logger is the logging interface the client needs. Compatible with
// logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// hostState is the JSON body published on the host application's retained
// state topic.
type hostState struct {
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

// Client owns the persistent broker connection for the historian.
//
// On connect it registers a last-will offline announcement, subscribes to
// all topics, subscribes to its own state topic, publishes a retained
// online announcement, and only then emits a birth event. Every inbound
// transport message is decoded through the codec; messages that fail to
// decode are dropped at debug level.
//
// Lifecycle and message events are delivered on the channel returned by
// Events() and must be consumed until EventEnd, otherwise transport
// goroutines block once the buffer fills.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger

	seq Sequence

	events chan Event

	// closed guards the event channel against send-after-close.
	closed   bool
	eventsMu sync.RWMutex

	// born tracks whether the first birth announcement completed, to
	// distinguish connect from reconnect.
	born   bool
	bornMu sync.Mutex
}

// Connect establishes the broker connection and starts the session.
//
// The returned client is already subscribed and announcing; callers should
// immediately start consuming Events().
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, eventBufferSize),
	}

	opts := c.buildClientOptions()

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// buildClientOptions creates paho options from config, including the
// last-will offline announcement registered before the connect attempt.
func (c *Client) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if c.cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Broker.Host, c.cfg.Broker.Port))

	opts.SetClientID(c.cfg.Broker.ClientID)
	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// Last will: the broker announces us offline if the session dies
	// without a graceful close. Retained at-least-once so late
	// subscribers still see the final state.
	opts.SetBinaryWill(StateTopic(c.cfg.HostID), c.deathPayload(), 1, true)

	return opts
}

// deathPayload builds the offline announcement stamped with the connect
// attempt time.
func (c *Client) deathPayload() []byte {
	body, _ := json.Marshal(hostState{Online: false, Timestamp: time.Now().UnixMilli()})
	return body
}

// handleConnect runs on every (re)connection: subscribe to all traffic,
// then the host state topic, then publish the retained online
// announcement. Only after that publish is acknowledged does the client
// emit birth.
func (c *Client) handleConnect() {
	c.bornMu.Lock()
	reborn := c.born
	c.bornMu.Unlock()

	if reborn {
		c.emit(Event{Type: EventReconnect})
	} else {
		c.emit(Event{Type: EventConnect})
	}

	if err := c.subscribe(subscribeAllFilter); err != nil {
		c.emit(Event{Type: EventError, Err: err})
		return
	}
	if err := c.subscribe(StateTopic(c.cfg.HostID)); err != nil {
		c.emit(Event{Type: EventError, Err: err})
		return
	}

	body, _ := json.Marshal(hostState{Online: true, Timestamp: time.Now().UnixMilli()})
	token := c.client.Publish(StateTopic(c.cfg.HostID), 1, true, body)
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.emit(Event{Type: EventError, Err: fmt.Errorf("%w: birth announcement timed out", ErrPublishFailed)})
		return
	}
	if err := token.Error(); err != nil {
		c.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)})
		return
	}

	c.bornMu.Lock()
	c.born = true
	c.bornMu.Unlock()

	c.emit(Event{Type: EventBirth})
}

func (c *Client) handleConnectionLost(err error) {
	c.emit(Event{Type: EventOffline})
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	c.emit(Event{Type: EventDisconnect, Reason: reason})
}

func (c *Client) subscribe(filter string) error {
	token := c.client.Subscribe(filter, byte(c.cfg.QoS), c.handleMessage)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %q: timeout after %v", ErrSubscribeFailed, filter, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// handleMessage decodes one inbound transport message. Topics outside the
// protocol grammar and payloads that fail to decode are dropped quietly;
// the shared topic space carries foreign traffic that is not ours to
// report on.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic, err := ParseTopic(msg.Topic())
	if err != nil {
		if t, perr := ParsePrefixedTopic(msg.Topic()); perr == nil {
			topic = t
		} else {
			c.logger.Debug("ignoring non-protocol topic", "topic", msg.Topic())
			return
		}
	}

	if topic.MessageType == MessageTypeState {
		// Host state announcements are JSON, not metric bundles; nothing
		// to record.
		c.logger.Debug("ignoring state announcement", "topic", msg.Topic())
		return
	}

	payload, err := Decode(msg.Payload())
	if err != nil {
		c.logger.Debug("dropping undecodable payload",
			"topic", msg.Topic(),
			"bytes", len(msg.Payload()),
			"error", err,
		)
		return
	}

	c.emit(Event{Type: EventMessage, Topic: topic, Payload: payload})
}

// Publish encodes and publishes a payload, allocating the next outbound
// sequence number. The sequence wraps from 255 back to 0.
func (c *Client) Publish(topic string, p *Payload) error {
	c.eventsMu.RLock()
	closed := c.closed
	c.eventsMu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	seq := uint64(c.seq.Next())
	p.Seq = &seq

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, Encode(p))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Events returns the client's event channel. It is closed after EventEnd.
func (c *Client) Events() <-chan Event {
	return c.events
}

// IsConnected reports the current transport state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Close gracefully ends the session: publishes the retained offline
// announcement, disconnects, and closes the event channel after emitting
// close and end events. A second Close returns ErrClosed.
func (c *Client) Close() error {
	c.eventsMu.RLock()
	closed := c.closed
	c.eventsMu.RUnlock()
	if closed {
		return ErrClosed
	}
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		body, _ := json.Marshal(hostState{Online: false, Timestamp: time.Now().UnixMilli()})
		token := c.client.Publish(StateTopic(c.cfg.HostID), 1, true, body)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.emit(Event{Type: EventClose})
	c.emit(Event{Type: EventEnd})

	c.eventsMu.Lock()
	c.closed = true
	close(c.events)
	c.eventsMu.Unlock()

	return nil
}

// emit delivers an event unless the client is closed. Delivery blocks if
// the buffer is full; the dispatch loop must keep consuming.
func (c *Client) emit(ev Event) {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.closed {
		return
	}
	c.events <- ev
}
