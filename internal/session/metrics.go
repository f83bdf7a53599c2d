package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the session's line counters on a private registry, so
// repeated sessions in one process never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// LinesSeen counts every line read off the tail stream
	LinesSeen prometheus.Counter
	// LinesEmitted counts lines that passed the filter to the sink
	LinesEmitted prometheus.Counter
}

// NewMetrics creates the session metrics set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbgwatch_lines_total",
			Help: "Lines read from the collector log file.",
		}),
		LinesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbgwatch_lines_emitted_total",
			Help: "Lines that passed the session filter.",
		}),
	}
	m.registry.MustRegister(m.LinesSeen, m.LinesEmitted)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
