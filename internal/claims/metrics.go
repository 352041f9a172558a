package claims

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors
type Metrics struct {
	outcomes            *prometheus.CounterVec
	attestationAttempts prometheus.Counter
	inflight            prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lp_rewards",
			Name:      "claims_total",
			Help:      "Claims by final outcome of a processing pass.",
		}, []string{"outcome"}),
		attestationAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lp_rewards",
			Name:      "attestation_attempts_total",
			Help:      "Attestation polls made.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lp_rewards",
			Name:      "attestation_tasks_inflight",
			Help:      "Background attestation tasks currently running.",
		}),
	}
	reg.MustRegister(m.outcomes, m.attestationAttempts, m.inflight)
	return m
}

func (m *Metrics) outcome(label string) {
	if m != nil {
		m.outcomes.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) attempt() {
	if m != nil {
		m.attestationAttempts.Inc()
	}
}

func (m *Metrics) taskStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) taskDone() {
	if m != nil {
		m.inflight.Dec()
	}
}
