package listener

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics count listener activity per chain
type Metrics struct {
	events     *prometheus.CounterVec
	reconnects *prometheus.CounterVec
}

// NewMetrics creates and registers the listener collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lp_rewards",
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Hook logs handled, by chain and result.",
		}, []string{"chain", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lp_rewards",
			Subsystem: "listener",
			Name:      "reconnects_total",
			Help:      "Subscription failures that triggered a reconnect.",
		}, []string{"chain"}),
	}
	reg.MustRegister(m.events, m.reconnects)
	return m
}

func (m *Metrics) event(chain, result string) {
	if m != nil {
		m.events.WithLabelValues(chain, result).Inc()
	}
}

func (m *Metrics) reconnect(chain string) {
	if m != nil {
		m.reconnects.WithLabelValues(chain).Inc()
	}
}
