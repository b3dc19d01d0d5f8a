package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sentinel_authz"

// Metrics holds all Prometheus metrics for the decision API.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	DecisionErrors  prometheus.Counter
	Reloads         *prometheus.CounterVec
	PolicyChanges   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"endpoint", "method", "status"}, // status=2xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"endpoint"},
		),
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decisions_total",
				Help:      "Total enforcement decisions",
			},
			[]string{"result", "cached"}, // result=allow/deny
		),
		DecisionErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decision_errors_total",
				Help:      "Enforcement requests rejected by the model or request shape",
			},
		),
		Reloads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reloads_total",
				Help:      "Policy reloads",
			},
			[]string{"result"}, // result=ok/error
		),
		PolicyChanges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "policy_changes_total",
				Help:      "Policy rows added or removed through the API",
			},
			[]string{"op"}, // op=add/remove
		),
	}
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(allowed, cached bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	m.Decisions.WithLabelValues(result, cachedLabel).Inc()
}

// RecordReload counts one reload attempt.
func (m *Metrics) RecordReload(err error) {
	if err != nil {
		m.Reloads.WithLabelValues("error").Inc()
		return
	}
	m.Reloads.WithLabelValues("ok").Inc()
}

// registerAuditQueue exposes q as scrape-time metrics.
func registerAuditQueue(reg prometheus.Registerer, q AuditQueue) {
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audit_dropped_total",
			Help:      "Audit records dropped because the queue stayed full",
		},
		func() float64 { return float64(q.DroppedRecords()) },
	)
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "audit_queue_depth",
			Help:      "Audit records waiting to be written",
		},
		func() float64 { return float64(q.ChannelDepth()) },
	)
}
