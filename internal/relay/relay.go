// Package relay bridges tenant command channels on the bus to the observer
// session registry. Fan-out is one-directional: bus to observers.
//
// The relay is transparent by design: payloads are forwarded whether or not
// they decode as shaped commands. A malformed payload is logged and counted,
// never dropped. Resubscription after a transport gap is handled by the bus
// wrapper; messages published during the gap are lost, not replayed.
package relay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/metrics"
	"github.com/tracker-control/tcc/internal/topic"
)

// Sink receives forwarded payloads. The observer registry satisfies it.
type Sink interface {
	FanOut(payload []byte)
}

// Relay subscribes tenant command channels and forwards every delivered
// message to the sink.
type Relay struct {
	conn     bus.Conn
	resolver *topic.Resolver
	sink     Sink
	enc      codec.Encoding
	log      zerolog.Logger
	m        *metrics.Metrics

	mu      sync.Mutex
	tenants map[string]string // tenant id -> subscribed channel
}

// New creates a relay bound to one resolver instance; only channels under the
// resolver's prefix are ever forwarded, keeping tenants on other prefixes
// invisible to this relay's observers.
func New(conn bus.Conn, resolver *topic.Resolver, sink Sink, enc codec.Encoding, log zerolog.Logger, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Relay{
		conn:     conn,
		resolver: resolver,
		sink:     sink,
		enc:      enc,
		log:      log.With().Str("component", "relay").Logger(),
		m:        m,
		tenants:  make(map[string]string),
	}
}

// Attach subscribes a tenant's command channel. It fails with
// topic.ErrInvalidTenantID for malformed tenants.
func (r *Relay) Attach(tenantID string) error {
	channels, err := r.resolver.Resolve(tenantID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.tenants[tenantID]; exists {
		r.mu.Unlock()
		return nil
	}
	r.tenants[tenantID] = channels.Command
	r.mu.Unlock()

	if err := r.conn.Subscribe(channels.Command, r.onMessage); err != nil {
		r.mu.Lock()
		delete(r.tenants, tenantID)
		r.mu.Unlock()
		return fmt.Errorf("attach tenant %s: %w", tenantID, err)
	}

	r.log.Info().Str("tenant", tenantID).Str("channel", channels.Command).Msg("tenant attached")
	return nil
}

// Detach unsubscribes a tenant's command channel.
func (r *Relay) Detach(tenantID string) error {
	r.mu.Lock()
	channel, exists := r.tenants[tenantID]
	delete(r.tenants, tenantID)
	r.mu.Unlock()

	if !exists {
		return nil
	}
	if err := r.conn.Unsubscribe(channel); err != nil {
		return fmt.Errorf("detach tenant %s: %w", tenantID, err)
	}
	r.log.Info().Str("tenant", tenantID).Msg("tenant detached")
	return nil
}

// Tenants returns the currently attached tenant identifiers.
func (r *Relay) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tenants))
	for tenantID := range r.tenants {
		out = append(out, tenantID)
	}
	return out
}

// onMessage is invoked by the transport for each delivered message. The
// payload is forwarded as-is; decoding is attempted only for diagnostics.
func (r *Relay) onMessage(channel string, payload []byte) {
	tenantID, purpose, err := r.resolver.Parse(channel)
	if err != nil || purpose != topic.PurposeCommand {
		r.log.Warn().Str("channel", channel).Msg("message on unexpected channel, ignored")
		return
	}

	var cmd codec.Command
	if err := r.enc.Unmarshal(payload, &cmd); err != nil {
		r.m.RelayMalformed.Inc()
		r.log.Warn().Str("tenant", tenantID).Err(err).Msg("forwarding malformed command payload")
	} else {
		r.log.Debug().Str("tenant", tenantID).Uint64("seq", cmd.Seq).Float64("value", cmd.Value).Msg("command forwarded")
	}

	r.m.RelayForwarded.Inc()
	r.sink.FanOut(payload)
}
