package runner

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runnerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_runner_jobs_total",
			Help: "Total number of reserved jobs by outcome",
		},
		[]string{"queue", "job", "outcome"},
	)

	runnerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchsync_runner_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "job"},
	)

	runnerDeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_runner_dead_letter_total",
			Help: "Total number of jobs removed from their queue after exhausting attempts",
		},
		[]string{"queue", "job"},
	)
)

const (
	outcomeExecuted     = "executed"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
)

func recordJobOutcome(queueName, jobName, outcome string) {
	runnerJobsTotal.WithLabelValues(
		normalizeMetricLabel(queueName),
		normalizeMetricLabel(jobName),
		outcome,
	).Inc()
	if outcome == outcomeDeadLettered {
		runnerDeadLetterTotal.WithLabelValues(normalizeMetricLabel(queueName), normalizeMetricLabel(jobName)).Inc()
	}
}

func observeJobDuration(queueName, jobName string, d time.Duration) {
	runnerJobDuration.WithLabelValues(normalizeMetricLabel(queueName), normalizeMetricLabel(jobName)).Observe(d.Seconds())
}

func normalizeMetricLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
