package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the synchronous assistant path.
type Metrics struct {
	Requests        *prometheus.CounterVec
	AgentDurationMs prometheus.Histogram
}

// New registers and returns assistant metrics collectors on the given
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricobo_assistant_requests_total",
			Help: "Total number of assistant requests by result status",
		}, []string{"status"}),
		AgentDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fabricobo_assistant_agent_duration_ms",
			Help:    "Duration of agent invocations on the assistant path in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 180000},
		}),
	}
}

func (m *Metrics) IncrementRequests(status string) {
	m.Requests.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveAgentDuration(durationMs float64) {
	m.AgentDurationMs.Observe(durationMs)
}
