package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchsync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	breakerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_circuit_breaker_rejected_total",
			Help: "Calls rejected by an open circuit breaker",
		},
		[]string{"name"},
	)
)

func recordState(name string, state State) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

func recordRejected(name string) {
	breakerRejected.WithLabelValues(name).Inc()
}
