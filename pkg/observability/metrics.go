package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so library packages can be used without a registry.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access evaluation metrics
	AccessDecisionsTotal     *prometheus.CounterVec
	AccessGrantsTotal        *prometheus.CounterVec
	AccessEvaluationDuration prometheus.Histogram

	// Batch loading metrics
	BatchLoadsTotal        *prometheus.CounterVec
	BatchIDsRequestedTotal *prometheus.CounterVec
	BatchIDsFetchedTotal   *prometheus.CounterVec
	BatchLoadDuration      *prometheus.HistogramVec
	CacheHitsTotal         *prometheus.CounterVec
	CacheMissesTotal       *prometheus.CounterVec

	// Membership and lifecycle metrics
	MembershipMutationsTotal *prometheus.CounterVec
	SoftDeletePurgedTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_access_decisions_total",
				Help: "Access assertions by outcome and required role",
			},
			[]string{"result", "required"},
		),
		AccessGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_access_grants_total",
				Help: "Effective role resolutions by the grant path that matched",
			},
			[]string{"path"},
		),
		AccessEvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trellis_access_evaluation_duration_seconds",
				Help:    "Time spent resolving an effective role",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),

		BatchLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_batch_loads_total",
				Help: "Batch load calls per entity type",
			},
			[]string{"entity"},
		),
		BatchIDsRequestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_batch_ids_requested_total",
				Help: "Ids passed to batch loads before deduplication",
			},
			[]string{"entity"},
		),
		BatchIDsFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_batch_ids_fetched_total",
				Help: "Distinct ids fetched from the backing store",
			},
			[]string{"entity"},
		),
		BatchLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_batch_load_duration_seconds",
				Help:    "Batch load duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_batch_cache_hits_total",
				Help: "Batch cache hits per entity type",
			},
			[]string{"entity"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_batch_cache_misses_total",
				Help: "Batch cache misses per entity type",
			},
			[]string{"entity"},
		),

		MembershipMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_membership_mutations_total",
				Help: "Membership mutations by scope and operation",
			},
			[]string{"scope", "operation"},
		),
		SoftDeletePurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_softdelete_purged_total",
				Help: "Rows permanently removed after the soft-delete retention",
			},
			[]string{"table"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessDecisionsTotal,
		m.AccessGrantsTotal,
		m.AccessEvaluationDuration,
		m.BatchLoadsTotal,
		m.BatchIDsRequestedTotal,
		m.BatchIDsFetchedTotal,
		m.BatchLoadDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.MembershipMutationsTotal,
		m.SoftDeletePurgedTotal,
	)

	return m
}

// RecordAccessDecision counts one assertion outcome.
func (m *Metrics) RecordAccessDecision(result, required string) {
	if m == nil {
		return
	}
	m.AccessDecisionsTotal.WithLabelValues(result, required).Inc()
}

// RecordGrant counts the grant path that produced an effective role and the
// time it took to resolve.
func (m *Metrics) RecordGrant(path string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AccessGrantsTotal.WithLabelValues(path).Inc()
	m.AccessEvaluationDuration.Observe(elapsed.Seconds())
}

// RecordBatchLoad counts one batch load with its requested and fetched id
// counts.
func (m *Metrics) RecordBatchLoad(entity string, requested, fetched int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchLoadsTotal.WithLabelValues(entity).Inc()
	m.BatchIDsRequestedTotal.WithLabelValues(entity).Add(float64(requested))
	m.BatchIDsFetchedTotal.WithLabelValues(entity).Add(float64(fetched))
	m.BatchLoadDuration.WithLabelValues(entity).Observe(elapsed.Seconds())
}

// RecordCache counts cache hits and misses for one load.
func (m *Metrics) RecordCache(entity string, hits, misses int) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(entity).Add(float64(hits))
	m.CacheMissesTotal.WithLabelValues(entity).Add(float64(misses))
}

// RecordMembershipMutation counts one membership write.
func (m *Metrics) RecordMembershipMutation(scope, operation string) {
	if m == nil {
		return
	}
	m.MembershipMutationsTotal.WithLabelValues(scope, operation).Inc()
}

// RecordPurge counts rows purged from table.
func (m *Metrics) RecordPurge(table string, rows int64) {
	if m == nil {
		return
	}
	m.SoftDeletePurgedTotal.WithLabelValues(table).Add(float64(rows))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
