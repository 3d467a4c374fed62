// Package metrics exposes the Prometheus metrics of the batch sync service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the management HTTP metrics with the process-wide default
// registry, where the queue, runner, ledger and scheduler packages register
// their collectors together with the Go and process collectors.
type Registry struct {
	registry  *prometheus.Registry
	gatherers prometheus.Gatherers
}

// NewRegistry creates a registry holding the management HTTP metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(managementRequestDuration, managementRequestsTotal, managementRequestsInFlight)

	return &Registry{
		registry:  reg,
		gatherers: prometheus.Gatherers{reg, prometheus.DefaultGatherer},
	}
}

// Register registers an additional collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector registered through r.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler serves every gathered metric in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherers, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Gatherer returns the merged gatherer behind Handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherers
}
