package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		generationAttemptsTotal,
		generationLatencyMs,
		generationTimeoutsTotal,
	)
}

var (
	generationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_attempts_total",
			Help: "Settled generation attempts by outcome and error code.",
		},
		[]string{"outcome", "code"}, // outcome: success|error|timeout
	)

	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_latency_ms",
			Help:    "Attempt latency from trigger to settlement in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000, 30000},
		},
		[]string{"outcome"},
	)

	generationTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_timeouts_total",
			Help: "Attempts aborted by the 30s timeout guard.",
		},
	)
)

func ObserveGeneration(outcome, code string, latencyMs int64) {
	generationAttemptsTotal.WithLabelValues(norm(outcome), norm(code)).Inc()
	generationLatencyMs.WithLabelValues(norm(outcome)).Observe(float64(latencyMs))
	if outcome == "timeout" {
		generationTimeoutsTotal.Inc()
	}
}
