package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordAuthz("permission", true)
	families, err := registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)

	// Registering twice on the same registry must panic
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestRecordAuthz(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuthz("scope", true)
	m.RecordAuthz("permission", false)
	m.RecordAuthz("permission", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("scope", "allowed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("permission", "denied")))
}

func TestRecordHelpers_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthz("scope", true)
		m.RecordCache("l1", true)
		m.RecordRateLimited("user")
		m.RecordStoreOperation("create_role", time.Now(), nil)
		m.RecordDBStats(sql.DBStats{})
	})
}

func TestRecordCacheAndStore(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCache("redis", true)
	m.RecordCache("redis", false)
	m.RecordStoreOperation("delete_role", time.Now(), assert.AnError)
	m.RecordDBStats(sql.DBStats{OpenConnections: 5, InUse: 2, Idle: 3})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("redis")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("redis")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("delete_role", "error")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DBConnectionsIdle))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/roles/1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/roles/2", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/roles/{id}", "404")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordAuthz("tenant_context", true)

	w := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "loanadmin_authz_decisions_total"))
}
