// Package tracker runs the producer side of the pipeline: per-tenant workers
// that shape raw position samples into commands and publish them on the bus.
//
// Each tenant gets one worker goroutine and one bounded queue. Producers never
// block: a sample offered to a full queue is dropped and counted. Within a
// tenant, samples are evaluated in offer order, so admitted commands carry
// strictly increasing sequence numbers.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/metrics"
	"github.com/tracker-control/tcc/internal/shaper"
	"github.com/tracker-control/tcc/internal/topic"
)

const defaultQueueSize = 256

// ErrUnknownTenant is returned when a sample names a tenant the pipeline does
// not serve.
var ErrUnknownTenant = fmt.Errorf("unknown tenant")

// Config holds the shared pipeline settings applied to every tenant.
type Config struct {
	Shaping shaper.Config
	// QueueSize bounds each tenant's sample queue.
	QueueSize int
}

// Pipeline owns one shaping worker per tenant.
type Pipeline struct {
	conn    bus.Conn
	res     *topic.Resolver
	enc     codec.Encoding
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	tenants map[string]*worker
	closed  bool

	wg sync.WaitGroup
}

type worker struct {
	shaper   *shaper.Shaper
	channels topic.Channels
	queue    chan shaper.Sample
}

// New creates an empty pipeline. Add tenants before offering samples.
func New(conn bus.Conn, res *topic.Resolver, enc codec.Encoding, cfg Config, m *metrics.Metrics, log zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Shaping.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Pipeline{
		conn:    conn,
		res:     res,
		enc:     enc,
		cfg:     cfg,
		log:     log.With().Str("component", "tracker").Logger(),
		metrics: m,
		tenants: make(map[string]*worker),
	}, nil
}

// AddTenant provisions shaping state and a worker for one tenant. Adding a
// tenant twice is an error; tenants never share queues or sequence counters.
func (p *Pipeline) AddTenant(tenantID string) error {
	channels, err := p.res.Resolve(tenantID)
	if err != nil {
		return err
	}
	sh, err := shaper.New(tenantID, p.cfg.Shaping)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pipeline is closed")
	}
	if _, ok := p.tenants[tenantID]; ok {
		return fmt.Errorf("tenant %q already added", tenantID)
	}

	w := &worker{
		shaper:   sh,
		channels: channels,
		queue:    make(chan shaper.Sample, p.cfg.QueueSize),
	}
	p.tenants[tenantID] = w

	p.wg.Add(1)
	go p.run(w)

	p.log.Info().Str("tenant_id", tenantID).Str("channel", channels.Command).Msg("tenant added")
	p.publishStatus(w, "tenant_started", "")
	return nil
}

// Tenants returns the tenant identifiers currently served.
func (p *Pipeline) Tenants() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.tenants))
	for id := range p.tenants {
		out = append(out, id)
	}
	return out
}

// Offer enqueues one sample for its tenant's worker. It never blocks: when
// the tenant queue is full the sample is dropped and counted, keeping the
// perception producer decoupled from bus backpressure.
func (p *Pipeline) Offer(sample shaper.Sample) error {
	// The read lock is held across the send attempt so Close cannot close
	// the queue out from under it.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("pipeline is closed")
	}
	w, ok := p.tenants[sample.TenantID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTenant, sample.TenantID)
	}

	if p.metrics != nil {
		p.metrics.SamplesOffered.Inc()
	}
	select {
	case w.queue <- sample:
		return nil
	default:
		if p.metrics != nil {
			p.metrics.SamplesDropped.Inc()
		}
		p.log.Debug().Str("tenant_id", sample.TenantID).Msg("tenant queue full, sample dropped")
		return nil
	}
}

// Close stops accepting samples, drains every tenant queue, and waits for the
// workers to finish.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.tenants {
		close(w.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// run is the single writer for one tenant's shaper. It exits when the queue
// is closed and drained.
func (p *Pipeline) run(w *worker) {
	defer p.wg.Done()
	for sample := range w.queue {
		p.process(w, sample)
	}
	p.publishStatus(w, "tenant_stopped", "")
}

func (p *Pipeline) process(w *worker, sample shaper.Sample) {
	cmd, rejection, err := w.shaper.Offer(sample)
	if err != nil {
		p.log.Warn().Err(err).Str("tenant_id", w.shaper.TenantID()).Msg("sample rejected as invalid")
		if p.metrics != nil {
			p.metrics.SamplesRejected.WithLabelValues("invalid").Inc()
		}
		return
	}
	if rejection != shaper.RejectNone {
		if p.metrics != nil {
			p.metrics.SamplesRejected.WithLabelValues(string(rejection)).Inc()
		}
		p.log.Debug().
			Str("tenant_id", w.shaper.TenantID()).
			Str("reason", string(rejection)).
			Float64("value", sample.Value).
			Msg("sample suppressed")
		return
	}

	payload, err := p.enc.Marshal(cmd)
	if err != nil {
		p.log.Error().Err(err).Msg("command encoding failed")
		return
	}
	if err := p.conn.Publish(w.channels.Command, payload); err != nil {
		p.log.Error().Err(err).Str("channel", w.channels.Command).Msg("command publish failed")
		p.publishStatus(w, "publish_failed", err.Error())
		return
	}

	if p.metrics != nil {
		p.metrics.CommandsPublished.Inc()
	}
	p.log.Debug().
		Str("tenant_id", cmd.TenantID).
		Float64("value", cmd.Value).
		Uint64("seq", cmd.Seq).
		Msg("command published")
}

func (p *Pipeline) publishStatus(w *worker, event, detail string) {
	payload, err := p.enc.Marshal(codec.Status{
		Node:      "tracker",
		Event:     event,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.conn.Publish(w.channels.Status, payload); err != nil {
		p.log.Debug().Err(err).Msg("status publish failed")
	}
}
