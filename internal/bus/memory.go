package bus

import (
	"strings"
	"sync"
)

// Memory is an in-process Conn used by tests and the simulate subcommand.
// Delivery is synchronous and supports the single-level "+" wildcard used by
// the relay to watch all tenants under a prefix.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	closed bool
}

var _ Conn = (*Memory)(nil)

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]Handler)}
}

// Publish delivers the payload to every matching subscription.
func (m *Memory) Publish(channel string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrTransportDisconnect
	}
	var handlers []Handler
	for filter, hs := range m.subs {
		if topicMatches(filter, channel) {
			handlers = append(handlers, hs...)
		}
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

// Subscribe registers a handler for a channel filter. More than one handler
// may subscribe the same filter; each receives every matching message.
func (m *Memory) Subscribe(channel string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportDisconnect
	}
	m.subs[channel] = append(m.subs[channel], h)
	return nil
}

// Unsubscribe removes every handler registered under a channel filter.
func (m *Memory) Unsubscribe(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, channel)
	return nil
}

// Close stops delivery.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// topicMatches implements MQTT filter matching for the "+" single-level
// wildcard. The "#" multi-level wildcard is matched as a trailing segment.
func topicMatches(filter, channel string) bool {
	if filter == channel {
		return true
	}
	fparts := strings.Split(filter, "/")
	cparts := strings.Split(channel, "/")
	for i, fp := range fparts {
		if fp == "#" {
			return true
		}
		if i >= len(cparts) {
			return false
		}
		if fp != "+" && fp != cparts[i] {
			return false
		}
	}
	return len(fparts) == len(cparts)
}
