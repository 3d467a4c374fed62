package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UnmatchedRoute labels requests that hit no registered route.
const UnmatchedRoute = "unmatched"

var (
	managementRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batchsync_management_request_duration_seconds",
			Help:    "Management API request duration by route",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "route", "status"},
	)

	managementRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsync_management_requests_total",
			Help: "Management API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	managementRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchsync_management_requests_in_flight",
			Help: "Management API requests currently being served",
		},
	)
)

// ObserveRequest marks a management request in flight. The returned func
// ends it and records its status. route must be the route template so label
// cardinality stays bounded.
func ObserveRequest(method, route string) func(status int) {
	if route == "" {
		route = UnmatchedRoute
	}
	start := time.Now()
	managementRequestsInFlight.Inc()
	return func(status int) {
		managementRequestsInFlight.Dec()
		code := strconv.Itoa(status)
		managementRequestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		managementRequestsTotal.WithLabelValues(method, route, code).Inc()
	}
}
