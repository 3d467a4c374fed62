package statuscheck

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeRescheduled = "rescheduled"
	outcomeError       = "error"
)

var checksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batchsync_statuscheck_checks_total",
		Help: "Export status checks by outcome",
	},
	[]string{"outcome"},
)

func recordCheck(outcome string) {
	checksTotal.WithLabelValues(outcome).Inc()
}
