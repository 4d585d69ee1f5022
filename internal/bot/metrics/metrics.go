package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the conversational channel path.
type Metrics struct {
	Activities      *prometheus.CounterVec
	Replies         *prometheus.CounterVec
	SignInPrompts   prometheus.Counter
	TokenLookups    *prometheus.CounterVec
	AgentDurationMs prometheus.Histogram
}

// New registers and returns bot metrics collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Activities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricobo_bot_activities_total",
			Help: "Total number of channel activities received by type",
		}, []string{"type"}),
		Replies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricobo_bot_replies_total",
			Help: "Total number of out-of-band reply deliveries by outcome",
		}, []string{"outcome"}),
		SignInPrompts: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabricobo_bot_signin_prompts_total",
			Help: "Total number of sign-in cards sent",
		}),
		TokenLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricobo_bot_token_lookups_total",
			Help: "Total number of channel token vault lookups by outcome",
		}, []string{"outcome"}),
		AgentDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fabricobo_bot_agent_duration_ms",
			Help:    "Duration of agent invocations on the bot path in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 180000},
		}),
	}
}

func (m *Metrics) IncrementActivities(activityType string) {
	m.Activities.WithLabelValues(activityType).Inc()
}

func (m *Metrics) IncrementReplies(outcome string) {
	m.Replies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementSignInPrompts() {
	m.SignInPrompts.Inc()
}

func (m *Metrics) IncrementTokenLookups(outcome string) {
	m.TokenLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAgentDuration(durationMs float64) {
	m.AgentDurationMs.Observe(durationMs)
}
