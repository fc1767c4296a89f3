package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts decision lifecycle events. A nil *Metrics is a no-op so
// tests can pass a bare Handler.
type Metrics struct {
	registry *prometheus.Registry

	created  prometheus.Counter
	resolved *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		created: factory.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_decisions_created_total",
			Help: "Decisions created through the API.",
		}),
		resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_decisions_resolved_total",
			Help: "Decisions that reached a status via decide or withdraw, by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) DecisionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) DecisionResolved(status string) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
