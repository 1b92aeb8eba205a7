// Package heartbeat periodically publishes liveness records for one tenant
// and node role.
//
// Heartbeats are informational. Consumers treat the absence of heartbeats
// within their configured window as a liveness-down signal; that window is a
// consumer policy, not enforced here.
package heartbeat

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
)

// StatusOnline is the steady-state heartbeat status.
const StatusOnline = "online"

// Publisher emits one heartbeat per interval on a tenant's heartbeat channel.
type Publisher struct {
	conn     bus.Conn
	channel  string
	node     string
	enc      codec.Encoding
	interval time.Duration
	jitter   time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewPublisher creates a publisher for one (tenant channel, node role) pair.
func NewPublisher(conn bus.Conn, channel, node string, enc codec.Encoding, interval, jitter time.Duration, log zerolog.Logger) *Publisher {
	return &Publisher{
		conn:     conn,
		channel:  channel,
		node:     node,
		enc:      enc,
		interval: interval,
		jitter:   jitter,
		log:      log.With().Str("component", "heartbeat").Str("node", node).Logger(),
		now:      time.Now,
	}
}

// Start begins periodic publication. An immediate first beat announces the
// node before the first interval elapses.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})

	p.Beat()

	interval := p.tickInterval()
	stop := p.stop

	p.stopped.Add(1)
	go func() {
		defer p.stopped.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Beat()
			case <-stop:
				return
			}
		}
	}()
}

// tickInterval draws the ticker period: the base interval plus a random
// offset within the jitter window, so co-located nodes with identical
// configuration do not beat in lockstep.
func (p *Publisher) tickInterval() time.Duration {
	if p.jitter <= 0 {
		return p.interval
	}
	return p.interval + rand.N(p.jitter)
}

// Beat publishes one heartbeat record immediately.
func (p *Publisher) Beat() {
	record := codec.Heartbeat{
		Node:      p.node,
		Status:    StatusOnline,
		Timestamp: p.now().UTC(),
	}
	payload, err := p.enc.Marshal(record)
	if err != nil {
		p.log.Error().Err(err).Msg("heartbeat encode failed")
		return
	}
	if err := p.conn.Publish(p.channel, payload); err != nil {
		// Non-fatal: the next beat retries after reconnection.
		p.log.Warn().Err(err).Msg("heartbeat publish failed")
	}
}

// Stop halts publication. Safe to call more than once.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stop == nil {
		p.mu.Unlock()
		return
	}
	close(p.stop)
	p.stop = nil
	p.mu.Unlock()
	p.stopped.Wait()
}
