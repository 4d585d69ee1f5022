package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for credential validation and token
// exchange operations.
type Metrics struct {
	Validations        prometheus.Counter
	ValidationFailures *prometheus.CounterVec
	KeyFetches         prometheus.Counter
	KeyFetchFailures   prometheus.Counter
	OBOExchanges       *prometheus.CounterVec
	OBODurationMs      prometheus.Histogram
}

// New registers and returns auth metrics collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Validations: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabricobo_credential_validations_total",
			Help: "Total number of successful credential validations",
		}),
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricobo_credential_validation_failures_total",
			Help: "Total number of credential validation failures by reason",
		}, []string{"reason"}),
		KeyFetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabricobo_signing_key_fetches_total",
			Help: "Total number of signing key set fetches from the identity provider",
		}),
		KeyFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabricobo_signing_key_fetch_failures_total",
			Help: "Total number of failed signing key set fetches",
		}),
		OBOExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabricobo_obo_exchanges_total",
			Help: "Total number of On-Behalf-Of exchanges by outcome",
		}, []string{"outcome"}),
		OBODurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fabricobo_obo_exchange_duration_ms",
			Help:    "Duration of On-Behalf-Of exchanges in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}
}

func (m *Metrics) IncrementValidations() {
	m.Validations.Inc()
}

func (m *Metrics) IncrementValidationFailures(reason string) {
	m.ValidationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementKeyFetches() {
	m.KeyFetches.Inc()
}

func (m *Metrics) IncrementKeyFetchFailures() {
	m.KeyFetchFailures.Inc()
}

func (m *Metrics) IncrementOBOExchanges(outcome string) {
	m.OBOExchanges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveOBODuration(durationMs float64) {
	m.OBODurationMs.Observe(durationMs)
}
