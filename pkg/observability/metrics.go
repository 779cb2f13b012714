package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Permission cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Audit metrics
	AuditEventsTotal     *prometheus.CounterVec
	AuditArchivedTotal   prometheus.Counter
	AuditRetentionErrors prometheus.Counter

	// Database metrics
	DBConnectionsOpen    prometheus.Gauge
	DBConnectionsInUse   prometheus.Gauge
	DBConnectionsIdle    prometheus.Gauge
	DBConnectionsWaitCnt prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loanadmin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_authz_decisions_total",
				Help: "Authorization guard decisions by check and outcome",
			},
			[]string{"check", "outcome"},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_rate_limited_total",
				Help: "Requests rejected by the rate limiter by caller kind",
			},
			[]string{"caller"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_store_operations_total",
				Help: "Total number of role and menu store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loanadmin_store_operation_duration_seconds",
				Help:    "Role and menu store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_permission_cache_hits_total",
				Help: "Permission cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_permission_cache_misses_total",
				Help: "Permission cache misses by tier",
			},
			[]string{"tier"},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanadmin_audit_events_total",
				Help: "Audit events written by event type and status",
			},
			[]string{"event_type", "status"},
		),
		AuditArchivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanadmin_audit_archived_total",
			Help: "Audit rows archived and purged by the retention job",
		}),
		AuditRetentionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanadmin_audit_retention_errors_total",
			Help: "Failed audit retention runs",
		}),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loanadmin_db_connections_open",
			Help: "Open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loanadmin_db_connections_in_use",
			Help: "Database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loanadmin_db_connections_idle",
			Help: "Idle database connections",
		}),
		DBConnectionsWaitCnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loanadmin_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.RateLimitedTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuditEventsTotal,
		m.AuditArchivedTotal,
		m.AuditRetentionErrors,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCnt,
	)

	return m
}

// RecordAuthz counts one guard decision; nil receivers are ignored
func (m *Metrics) RecordAuthz(check string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.AuthzDecisionsTotal.WithLabelValues(check, outcome).Inc()
}

// RecordRateLimited counts one rejected request
func (m *Metrics) RecordRateLimited(caller string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(caller).Inc()
}

// RecordStoreOperation records the outcome and latency of a store call
func (m *Metrics) RecordStoreOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordCache records a cache lookup for the given tier
func (m *Metrics) RecordCache(tier string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(tier).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordAuditEvent counts one audit write attempt
func (m *Metrics) RecordAuditEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordAuditArchive records the outcome of one retention run
func (m *Metrics) RecordAuditArchive(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.AuditRetentionErrors.Inc()
		return
	}
	m.AuditArchivedTotal.Add(float64(rows))
}

// RecordDBStats copies pool statistics into the database gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCnt.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Install it with router.Use so the route template is available as a label.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
