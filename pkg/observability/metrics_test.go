package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.RecordAccessDecision("allowed", "viewer")
	m.RecordGrant("membership", time.Millisecond)
	m.RecordBatchLoad("users", 4, 3, time.Millisecond)
	m.RecordCache("users", 1, 2)
	m.RecordMembershipMutation("workspace", "add")
	m.RecordPurge("issues", 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessDecisionsTotal.WithLabelValues("allowed", "viewer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessGrantsTotal.WithLabelValues("membership")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BatchIDsRequestedTotal.WithLabelValues("users")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BatchIDsFetchedTotal.WithLabelValues("users")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("users")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SoftDeletePurgedTotal.WithLabelValues("issues")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAccessDecision("allowed", "viewer")
		m.RecordGrant("owner", time.Millisecond)
		m.RecordBatchLoad("users", 1, 1, time.Millisecond)
		m.RecordCache("users", 0, 1)
		m.RecordMembershipMutation("team", "remove")
		m.RecordPurge("sprints", 1)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/workspaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/17", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/workspaces/{id}", "418")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordPurge("workspaces", 2)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "trellis_softdelete_purged_total"))
}
