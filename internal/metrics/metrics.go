// Package metrics holds the Prometheus collectors for the trade kernel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradekernel"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	transitionLatency prometheus.Histogram
	highRisk          prometheus.Counter
	fraudFlags        *prometheus.CounterVec
	trustRefreshes    *prometheus.CounterVec
	consensusSigns    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition attempts by target state and outcome.",
		}, []string{"to", "outcome"}),
		transitionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time spent applying a transition.",
			Buckets:   prometheus.DefBuckets,
		}),
		highRisk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_risk_transitions_total",
			Help:      "Transitions flagged as high risk.",
		}),
		fraudFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_flags_total",
			Help:      "Flagged fraud assessments by check.",
		}, []string{"check"}),
		trustRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_refresh_scores_total",
			Help:      "Trust scores recomputed by the refresher by outcome.",
		}, []string{"outcome"}),
		consensusSigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_signatures_total",
			Help:      "Consensus sign calls by party and whether they applied.",
		}, []string{"party", "applied"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.transitionLatency,
		m.highRisk,
		m.fraudFlags,
		m.trustRefreshes,
		m.consensusSigns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTransition(to, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, outcome).Inc()
	m.transitionLatency.Observe(seconds)
}

func (m *Metrics) HighRisk() {
	if m == nil {
		return
	}
	m.highRisk.Inc()
}

func (m *Metrics) FraudFlag(check string) {
	if m == nil {
		return
	}
	m.fraudFlags.WithLabelValues(check).Inc()
}

func (m *Metrics) TrustRefresh(outcome string) {
	if m == nil {
		return
	}
	m.trustRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConsensusSign(party string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.consensusSigns.WithLabelValues(party, label).Inc()
}
