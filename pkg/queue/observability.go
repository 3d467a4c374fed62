package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_queue_operations_total",
			Help: "Total number of queue operations by outcome",
		},
		[]string{"queue", "operation", "status"},
	)

	queueReserveEmptyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_queue_reserve_empty_total",
			Help: "Total number of reserve calls that found no available item",
		},
		[]string{"queue"},
	)
)

func recordQueueOperation(queueName, operation, status string) {
	queueOperationsTotal.WithLabelValues(
		normalizeMetricLabel(queueName),
		normalizeMetricLabel(operation),
		normalizeMetricLabel(status),
	).Inc()
}

func recordReserveEmpty(queueName string) {
	queueReserveEmptyTotal.WithLabelValues(normalizeMetricLabel(queueName)).Inc()
}

func normalizeMetricLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
