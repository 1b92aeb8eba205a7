package observer

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/tracker-control/tcc/internal/metrics"
)

// ErrDeliveryFailure marks a failed write to an observer transport. It is
// contained at the session: the session is evicted and the error recorded.
var ErrDeliveryFailure = errors.New("DELIVERY_FAILURE")

// Authorizer validates the bearer token presented on the websocket handshake.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// Gateway exposes the registry over a message-framed WebSocket endpoint:
// one forwarded bus message becomes one WebSocket frame per session.
type Gateway struct {
	registry *Registry
	auth     Authorizer
	log      zerolog.Logger
	m        *metrics.Metrics
}

// NewGateway creates a gateway. auth may be nil, in which case the handshake
// is unauthenticated.
func NewGateway(registry *Registry, auth Authorizer, log zerolog.Logger, m *metrics.Metrics) *Gateway {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Gateway{
		registry: registry,
		auth:     auth,
		log:      log.With().Str("component", "gateway").Logger(),
		m:        m,
	}
}

// Handler returns the /ws endpoint handler.
func (g *Gateway) Handler() http.Handler {
	wsHandler := websocket.Handler(g.handleConn)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if g.auth != nil {
			if err := g.auth.Authorize(r); err != nil {
				g.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("observer handshake rejected")
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
		}
		wsHandler.ServeHTTP(w, r)
	})
}

// handleConn runs one observer session: register, pump deliveries to the
// socket, unregister on any exit path.
func (g *Gateway) handleConn(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	ctx := conn.Request().Context()
	session := g.registry.Register(ctx)
	defer g.registry.Unregister(session)

	// Drain inbound frames so the peer's close handshake and pings are
	// processed; observers are receive-only.
	go func() {
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				g.registry.Unregister(session)
				return
			}
		}
	}()

	// Optional inactivity eviction. A nil channel never fires.
	var idleC <-chan time.Time
	var idle *time.Timer
	if window := g.registry.IdleTimeout(); window > 0 {
		idle = time.NewTimer(window)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-session.Done():
			return
		case <-idleC:
			g.registry.Evict(session, "idle_timeout")
			return
		case payload := <-session.Out():
			if err := websocket.Message.Send(conn, string(payload)); err != nil {
				g.registry.Evict(session, "delivery_failure")
				g.log.Debug().Err(err).Str("session", session.ID).Msg("observer write failed")
				return
			}
			if idle != nil {
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(g.registry.IdleTimeout())
			}
		}
	}
}
