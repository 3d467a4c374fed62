package scheduler

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_scheduler_dispatch_total",
			Help: "Scheduled task dispatches by action and outcome",
		},
		[]string{"task", "action", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchsync_scheduler_dispatch_duration_seconds",
			Help:    "Duration of dispatches that held the queue lock",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"task", "action"},
	)

	dispatchInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchsync_scheduler_dispatch_inflight",
			Help: "Dispatches currently holding a queue lock",
		},
		[]string{"task"},
	)

	lockRenewFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_scheduler_lock_renew_failures_total",
			Help: "Lock renewals that failed and cancelled a dispatch",
		},
		[]string{"task"},
	)
)

func recordDispatch(task string, action Action, outcome string) {
	dispatchTotal.WithLabelValues(metricLabel(task), metricLabel(string(action.Kind)), outcome).Inc()
}

// trackDispatch marks a dispatch in flight and returns the func that
// records its duration when it ends.
func trackDispatch(task string, action Action) func() {
	start := time.Now()
	inFlight := dispatchInFlight.WithLabelValues(metricLabel(task))
	inFlight.Inc()
	return func() {
		inFlight.Dec()
		dispatchDuration.WithLabelValues(metricLabel(task), metricLabel(string(action.Kind))).Observe(time.Since(start).Seconds())
	}
}

func recordLockRenewFailure(task string) {
	lockRenewFailures.WithLabelValues(metricLabel(task)).Inc()
}

func metricLabel(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "unknown"
}
