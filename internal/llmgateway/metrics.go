package llmgateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus series for gateway calls. Grounded on
// nexus's internal/observability.Metrics (promauto CounterVec/HistogramVec
// construction pattern), scoped down to the gateway's own concerns.
type Metrics struct {
	// GatewayErrors counts classified failures. Labels: provider, kind.
	GatewayErrors *prometheus.CounterVec

	// CircuitRejections counts calls rejected by an open breaker. Labels: provider.
	CircuitRejections *prometheus.CounterVec

	// GatewayLatency observes completion latency in milliseconds.
	GatewayLatency prometheus.Histogram
}

// NewMetrics registers gateway metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conclave_gateway_errors_total",
			Help: "Classified LLM gateway errors by provider and kind.",
		}, []string{"provider", "kind"}),
		CircuitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conclave_gateway_circuit_rejections_total",
			Help: "Calls rejected because the provider's circuit breaker was open.",
		}, []string{"provider"}),
		GatewayLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conclave_gateway_latency_ms",
			Help:    "LLM gateway completion latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
	}
}
