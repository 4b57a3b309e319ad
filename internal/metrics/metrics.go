// Package metrics exposes the engine's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sheetwallet"

// Metrics holds the counters. A nil *Metrics is valid and records nothing,
// so components can be built without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	requestsSubmitted     *prometheus.CounterVec
	requestsResolved      *prometheus.CounterVec
	dispatchErrors        *prometheus.CounterVec
	sweepUpdates          *prometheus.CounterVec
	refreshRuns           *prometheus.CounterVec
	connectionTransitions *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Peer requests received, by method.",
		}, []string{"method"}),
		requestsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_resolved_total",
			Help:      "Pending requests resolved, by disposition.",
		}, []string{"disposition"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Approved requests whose execution failed, by method.",
		}, []string{"method"}),
		sweepUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_updates_total",
			Help:      "Ledger rows settled by the reconciliation sweep, by status.",
		}, []string{"status"}),
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Wallet data reloads, by trigger.",
		}, []string{"trigger"}),
		connectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection status transitions, by new status.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsSubmitted,
		m.requestsResolved,
		m.dispatchErrors,
		m.sweepUpdates,
		m.refreshRuns,
		m.connectionTransitions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RequestSubmitted(method string) {
	if m != nil {
		m.requestsSubmitted.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) RequestResolved(disposition string) {
	if m != nil {
		m.requestsResolved.WithLabelValues(disposition).Inc()
	}
}

func (m *Metrics) DispatchError(method string) {
	if m != nil {
		m.dispatchErrors.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) SweepUpdated(status string) {
	if m != nil {
		m.sweepUpdates.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) RefreshRun(trigger string) {
	if m != nil {
		m.refreshRuns.WithLabelValues(trigger).Inc()
	}
}

func (m *Metrics) ConnectionTransition(status string) {
	if m != nil {
		m.connectionTransitions.WithLabelValues(status).Inc()
	}
}
