package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ccterm"

// Metrics groups the coordinator's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	tools        *prometheus.CounterVec
	permissions  *prometheus.CounterVec
	sessions     prometheus.Gauge
	parseMisses  *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound events dispatched, by type.",
		}, []string{"type"}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions that reached a final status.",
		}, []string{"tool", "status"}),
		permissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_resolutions_total",
			Help:      "Permission requests resolved locally, by decision.",
		}, []string{"decision"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions currently in the registry.",
		}),
		parseMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_misses_total",
			Help:      "Text heuristics that did not match, by parser.",
		}, []string{"parser"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound actions that failed to send, by type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		m.events,
		m.tools,
		m.permissions,
		m.sessions,
		m.parseMisses,
		m.sendFailures,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ToolFinished(tool, status string) {
	if m == nil {
		return
	}
	m.tools.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) Permission(decision string) {
	if m == nil {
		return
	}
	m.permissions.WithLabelValues(decision).Inc()
}

func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) ParseMiss(parser string) {
	if m == nil {
		return
	}
	m.parseMisses.WithLabelValues(parser).Inc()
}

func (m *Metrics) SendFailure(actionType string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(actionType).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
