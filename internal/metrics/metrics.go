// Package metrics defines the Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline counters and gauges. Components receive a
// *Metrics explicitly; there is no ambient global registry use.
type Metrics struct {
	SamplesOffered  prometheus.Counter
	SamplesRejected *prometheus.CounterVec
	SamplesDropped  prometheus.Counter

	CommandsPublished prometheus.Counter
	RelayForwarded    prometheus.Counter
	RelayMalformed    prometheus.Counter

	FanoutDelivered prometheus.Counter
	FanoutDropped   prometheus.Counter
	SessionsLive    prometheus.Gauge
	SessionsEvicted prometheus.Counter
}

// New creates and registers the metric set. A nil registerer registers into a
// private throwaway registry, which tests use to avoid collisions.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		SamplesOffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_samples_offered_total",
			Help: "Position samples offered to the command shaper.",
		}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcc_samples_rejected_total",
			Help: "Samples rejected by the admission policy, by reason.",
		}, []string{"reason"}),
		SamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_samples_dropped_total",
			Help: "Samples dropped before evaluation due to a full tenant queue.",
		}),
		CommandsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_commands_published_total",
			Help: "Shaped commands published to the bus.",
		}),
		RelayForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_relay_forwarded_total",
			Help: "Bus messages forwarded to the observer registry.",
		}),
		RelayMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_relay_malformed_total",
			Help: "Forwarded payloads that did not decode as shaped commands.",
		}),
		FanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_fanout_delivered_total",
			Help: "Payloads delivered to observer sessions.",
		}),
		FanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_fanout_dropped_total",
			Help: "Per-session deliveries that failed and evicted the session.",
		}),
		SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcc_observer_sessions",
			Help: "Currently registered observer sessions.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcc_observer_sessions_evicted_total",
			Help: "Observer sessions evicted after delivery failure or idle timeout.",
		}),
	}

	reg.MustRegister(
		m.SamplesOffered, m.SamplesRejected, m.SamplesDropped,
		m.CommandsPublished, m.RelayForwarded, m.RelayMalformed,
		m.FanoutDelivered, m.FanoutDropped, m.SessionsLive, m.SessionsEvicted,
	)
	return m
}
