// Package bus wraps the MQTT transport behind a small publish/subscribe
// connection interface shared by the tracker, relay, and actuator nodes.
//
// The paho client reconnects automatically; on every (re)connect the wrapper
// replays its subscription table before message flow resumes, so a consumer
// never has to resubscribe by hand. Messages published during a connection gap
// are lost, never replayed.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrTransportDisconnect is returned when an operation requires a live broker
// connection and none is available.
var ErrTransportDisconnect = errors.New("TRANSPORT_DISCONNECT")

// Handler is invoked by the transport for each delivered message.
type Handler func(channel string, payload []byte)

// Conn is the transport surface used by the pipeline nodes. Implementations
// must support concurrent publish and subscribe without corrupting per-channel
// routing.
type Conn interface {
	// Publish sends one payload on a channel.
	Publish(channel string, payload []byte) error

	// Subscribe registers a handler for a channel. The subscription survives
	// reconnects.
	Subscribe(channel string, h Handler) error

	// Unsubscribe removes a channel subscription.
	Unsubscribe(channel string) error

	// Close tears the connection down.
	Close()
}

// Config holds broker connection settings.
type Config struct {
	BrokerURL      string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Client is the paho-backed Conn.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	client mqtt.Client

	mu        sync.RWMutex
	subs      map[string]Handler
	connected bool
}

var _ Conn = (*Client)(nil)

// NewClient creates a disconnected client. Call Connect before use.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Client{
		cfg:  cfg,
		log:  log.With().Str("component", "bus").Logger(),
		subs: make(map[string]Handler),
	}
}

// Connect establishes the broker connection with automatic reconnection.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mc mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.log.Info().Str("broker", c.cfg.BrokerURL).Msg("broker connection established")
		c.resubscribe(mc)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("broker connection lost, awaiting automatic reconnect")
	}

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("%w: connect timeout after %v", ErrTransportDisconnect, c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportDisconnect, err)
	}
	return nil
}

// Publish sends one payload on a channel, waiting for broker acknowledgment
// up to the configured publish timeout.
func (c *Client) Publish(channel string, payload []byte) error {
	if !c.isConnected() {
		return fmt.Errorf("%w: publish on %s", ErrTransportDisconnect, channel)
	}
	token := c.client.Publish(channel, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout on %s", channel)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish on %s failed: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler and subscribes on the broker. The handler is
// recorded first so a reconnect between the two steps still resubscribes it.
func (c *Client) Subscribe(channel string, h Handler) error {
	c.mu.Lock()
	c.subs[channel] = h
	c.mu.Unlock()

	token := c.client.Subscribe(channel, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe timeout on %s", channel)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe on %s failed: %w", channel, err)
	}
	c.log.Debug().Str("channel", channel).Msg("subscribed")
	return nil
}

// Unsubscribe removes a channel from the subscription table and the broker.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.subs, channel)
	c.mu.Unlock()

	token := c.client.Unsubscribe(channel)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("unsubscribe timeout on %s", channel)
	}
	return token.Error()
}

// Close disconnects from the broker with a short grace period.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// resubscribe replays the subscription table after a (re)connect. Fan-out for
// a channel resumes only once its subscription is re-established.
func (c *Client) resubscribe(mc mqtt.Client) {
	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for channel, h := range c.subs {
		subs[channel] = h
	}
	c.mu.RUnlock()

	for channel, h := range subs {
		handler := h
		token := mc.Subscribe(channel, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() == nil {
			c.log.Info().Str("channel", channel).Msg("resubscribed after reconnect")
		} else {
			c.log.Error().Str("channel", channel).Err(token.Error()).Msg("resubscription failed")
		}
	}
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
