// Package observer tracks connected observer sessions and fans forwarded
// payloads out to them with partial-failure isolation.
//
// One slow or dead observer never affects the others: delivery runs against a
// snapshot of the session set, and a failed delivery evicts only the failing
// session. Eviction is recorded, never propagated to the fan-out caller.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tracker-control/tcc/internal/metrics"
)

// Config holds session delivery settings.
type Config struct {
	// SessionBuffer is the per-session outbound queue length.
	SessionBuffer int
	// SendTimeout bounds how long FanOut waits on a full session queue before
	// declaring a delivery failure. Zero retries: one failed attempt evicts.
	SendTimeout time.Duration
	// IdleTimeout destroys sessions that receive no traffic for this long.
	// Zero disables idle eviction.
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionBuffer <= 0 {
		c.SessionBuffer = 64
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 100 * time.Millisecond
	}
	return c
}

// Session is one connected downstream consumer. It is created on a successful
// connection handshake and owned by the registry until disconnect or eviction.
type Session struct {
	ID          string
	ConnectedAt time.Time

	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// Out is the session's delivery stream. It is never closed: FanOut may still
// hold the session in a snapshot after eviction, and a send racing a close
// would panic the fan-out goroutine. Termination is signalled via Done;
// payloads still buffered at that point may be drained or abandoned.
func (s *Session) Out() <-chan []byte {
	return s.out
}

// Done reports session termination to the transport goroutine.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) close() {
	s.cancel()
}

// Registry is the observer session registry.
type Registry struct {
	cfg Config
	log zerolog.Logger
	m   *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "observer").Logger(),
		m:        m,
		sessions: make(map[string]*Session),
	}
}

// Register creates a session bound to ctx and adds it to the fan-out set.
func (r *Registry) Register(ctx context.Context) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		out:         make(chan []byte, r.cfg.SessionBuffer),
		ctx:         sctx,
		cancel:      cancel,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.close()
		return s
	}
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.m.SessionsLive.Set(float64(count))
	r.log.Info().Str("session", s.ID).Int("sessions", count).Msg("observer connected")
	return s
}

// Unregister removes a session on explicit disconnect.
func (r *Registry) Unregister(s *Session) {
	r.remove(s, "disconnect")
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleTimeout exposes the configured idle window to the transport layer, which
// owns the inactivity clock.
func (r *Registry) IdleTimeout() time.Duration {
	return r.cfg.IdleTimeout
}

// FanOut delivers one payload to every currently registered session. Delivery
// failures evict the failing session and are recorded; they never abort
// delivery to the remaining sessions and never surface to the caller.
func (r *Registry) FanOut(payload []byte) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		select {
		case <-s.ctx.Done():
			continue
		case s.out <- payload:
			r.m.FanoutDelivered.Inc()
			continue
		default:
		}

		// Queue full: allow one bounded wait, then evict.
		timer := time.NewTimer(r.cfg.SendTimeout)
		select {
		case <-s.ctx.Done():
			timer.Stop()
		case s.out <- payload:
			timer.Stop()
			r.m.FanoutDelivered.Inc()
		case <-timer.C:
			r.m.FanoutDropped.Inc()
			r.remove(s, "delivery_failure")
		}
	}
}

// Evict removes a session after a transport-level delivery failure.
func (r *Registry) Evict(s *Session, reason string) {
	r.remove(s, reason)
}

// Close terminates every session and rejects new registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	r.m.SessionsLive.Set(0)
}

func (r *Registry) remove(s *Session, reason string) {
	r.mu.Lock()
	_, exists := r.sessions[s.ID]
	if exists {
		delete(r.sessions, s.ID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	s.close()
	if !exists {
		return
	}

	r.m.SessionsLive.Set(float64(count))
	if reason != "disconnect" {
		r.m.SessionsEvicted.Inc()
		r.log.Warn().Str("session", s.ID).Str("reason", reason).Msg("observer session evicted")
	} else {
		r.log.Info().Str("session", s.ID).Msg("observer disconnected")
	}
}
