package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sheets"

type Metrics struct {
	registry *prometheus.Registry

	lockOperations   *prometheus.CounterVec
	permissionChecks *prometheus.CounterVec
	rowOperations    *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the service collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lockOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_operations_total",
			Help:      "Row lock transitions by operation and outcome.",
		}, []string{"operation", "result"}),
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Permission decisions by action and outcome.",
		}, []string{"action", "result"}),
		rowOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_operations_total",
			Help:      "Committed row mutations by operation.",
		}, []string{"operation"}),
		validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Rejected cell values by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lockOperations,
		m.permissionChecks,
		m.rowOperations,
		m.validationErrors,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LockOperation(operation, result string) {
	m.lockOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) PermissionCheck(action string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.permissionChecks.WithLabelValues(action, result).Inc()
}

func (m *Metrics) RowOperation(operation string, count int) {
	m.rowOperations.WithLabelValues(operation).Add(float64(count))
}

func (m *Metrics) ValidationError(kind string) {
	m.validationErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
