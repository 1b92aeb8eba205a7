package bus

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubToken completes immediately with a fixed error.
type stubToken struct {
	err error
}

func (t stubToken) Wait() bool                     { return true }
func (t stubToken) WaitTimeout(time.Duration) bool { return true }
func (t stubToken) Error() error                   { return t.err }
func (t stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubBroker implements mqtt.Client and records subscriptions so reconnect
// replay can be asserted without a broker.
type stubBroker struct {
	mu           sync.Mutex
	subscribed   []string
	handlers     map[string]mqtt.MessageHandler
	published    map[string][]byte
	subscribeErr error
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		handlers:  make(map[string]mqtt.MessageHandler),
		published: make(map[string][]byte),
	}
}

func (b *stubBroker) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return stubToken{err: b.subscribeErr}
	}
	b.subscribed = append(b.subscribed, topic)
	b.handlers[topic] = callback
	return stubToken{}
}

func (b *stubBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = payload.([]byte)
	return stubToken{}
}

func (b *stubBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.handlers, topic)
	}
	return stubToken{}
}

func (b *stubBroker) IsConnected() bool       { return true }
func (b *stubBroker) IsConnectionOpen() bool  { return true }
func (b *stubBroker) Connect() mqtt.Token     { return stubToken{} }
func (b *stubBroker) Disconnect(uint)         {}
func (b *stubBroker) AddRoute(string, mqtt.MessageHandler) {}
func (b *stubBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return stubToken{}
}
func (b *stubBroker) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (b *stubBroker) subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.subscribed))
	copy(out, b.subscribed)
	sort.Strings(out)
	return out
}

// stubMessage is a delivered broker message.
type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 0 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func newStubClient(broker *stubBroker) *Client {
	c := NewClient(Config{BrokerURL: "tcp://stub:1883"}, zerolog.Nop())
	c.client = broker
	c.connected = true
	return c
}

func TestSubscribeRegistersAndDispatches(t *testing.T) {
	broker := newStubBroker()
	c := newStubClient(broker)

	var got []string
	require.NoError(t, c.Subscribe("tracker/teamA/command", func(channel string, payload []byte) {
		got = append(got, channel+":"+string(payload))
	}))
	assert.Equal(t, []string{"tracker/teamA/command"}, broker.subscriptions())

	broker.handlers["tracker/teamA/command"](broker, stubMessage{
		topic:   "tracker/teamA/command",
		payload: []byte("cmd"),
	})
	assert.Equal(t, []string{"tracker/teamA/command:cmd"}, got)
}

func TestResubscribeReplaysSubscriptionTable(t *testing.T) {
	broker := newStubBroker()
	c := newStubClient(broker)

	require.NoError(t, c.Subscribe("tracker/teamA/command", func(string, []byte) {}))
	require.NoError(t, c.Subscribe("tracker/teamB/command", func(string, []byte) {}))

	// A fresh broker connection starts with no subscriptions; the wrapper
	// must replay its whole table before message flow resumes.
	reconnected := newStubBroker()
	c.resubscribe(reconnected)

	assert.Equal(t,
		[]string{"tracker/teamA/command", "tracker/teamB/command"},
		reconnected.subscriptions())
}

func TestResubscribeIncludesHandlerRegisteredWhileDisconnected(t *testing.T) {
	broker := newStubBroker()
	broker.subscribeErr = errors.New("broker unreachable")
	c := newStubClient(broker)

	// The broker call fails but the handler stays in the table, so the next
	// reconnect picks it up.
	require.Error(t, c.Subscribe("tracker/teamA/command", func(string, []byte) {}))
	assert.Empty(t, broker.subscriptions())

	reconnected := newStubBroker()
	c.resubscribe(reconnected)
	assert.Equal(t, []string{"tracker/teamA/command"}, reconnected.subscriptions())
}

func TestResubscribedHandlerStillDispatches(t *testing.T) {
	broker := newStubBroker()
	c := newStubClient(broker)

	var got []string
	require.NoError(t, c.Subscribe("tracker/teamA/command", func(channel string, payload []byte) {
		got = append(got, string(payload))
	}))

	reconnected := newStubBroker()
	c.resubscribe(reconnected)
	reconnected.handlers["tracker/teamA/command"](reconnected, stubMessage{
		topic:   "tracker/teamA/command",
		payload: []byte("after-reconnect"),
	})
	assert.Equal(t, []string{"after-reconnect"}, got)
}

func TestUnsubscribeRemovesFromTable(t *testing.T) {
	broker := newStubBroker()
	c := newStubClient(broker)

	require.NoError(t, c.Subscribe("tracker/teamA/command", func(string, []byte) {}))
	require.NoError(t, c.Unsubscribe("tracker/teamA/command"))

	reconnected := newStubBroker()
	c.resubscribe(reconnected)
	assert.Empty(t, reconnected.subscriptions())
}

func TestPublishRequiresConnection(t *testing.T) {
	broker := newStubBroker()
	c := newStubClient(broker)
	c.connected = false

	err := c.Publish("tracker/teamA/command", []byte("cmd"))
	assert.ErrorIs(t, err, ErrTransportDisconnect)

	c.connected = true
	require.NoError(t, c.Publish("tracker/teamA/command", []byte("cmd")))
	assert.Equal(t, []byte("cmd"), broker.published["tracker/teamA/command"])
}
