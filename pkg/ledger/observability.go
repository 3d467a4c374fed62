package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_ledger_operations_total",
			Help: "Total number of ledger operations by outcome",
		},
		[]string{"operation", "type", "status"},
	)

	ledgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchsync_ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ledgerCountedDetailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_ledger_counted_details_total",
			Help: "Total number of details counted toward their transaction by status",
		},
		[]string{"type", "status"},
	)
)

func recordOperation(operation string, t Type, started time.Time, err error) {
	ledgerOperationsTotal.WithLabelValues(operation, typeLabel(t), outcomeLabel(err)).Inc()
	ledgerOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func recordCounted(t Type, status Status) {
	ledgerCountedDetailsTotal.WithLabelValues(typeLabel(t), string(status)).Inc()
}

func typeLabel(t Type) string {
	if !t.Valid() {
		return "unknown"
	}
	return string(t)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
