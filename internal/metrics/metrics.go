// Package metrics exposes Prometheus counters for webhook traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's counters. Constructed once at startup and
// injected; no default-registry globals.
type Metrics struct {
	registry *prometheus.Registry

	Received   *prometheus.CounterVec
	Verified   *prometheus.CounterVec
	Rejected   *prometheus.CounterVec
	Dispatches *prometheus.CounterVec
}

// New creates and registers the counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookgate_webhooks_received_total",
			Help: "Inbound webhook requests that reached the handler.",
		}, []string{"source"}),
		Verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookgate_webhooks_verified_total",
			Help: "Webhook requests that passed signature verification.",
		}, []string{"source"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookgate_webhooks_rejected_total",
			Help: "Webhook requests rejected by verification.",
		}, []string{"source", "reason"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookgate_workflow_dispatches_total",
			Help: "Workflow dispatch attempts by outcome.",
		}, []string{"source", "outcome"}),
	}

	m.registry.MustRegister(m.Received, m.Verified, m.Rejected, m.Dispatches)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
