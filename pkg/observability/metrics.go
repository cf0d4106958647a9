package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzDuration       *prometheus.HistogramVec

	// Permission cache metrics
	PermissionCacheHitsTotal          *prometheus.CounterVec
	PermissionCacheMissesTotal        *prometheus.CounterVec
	PermissionCacheInvalidationsTotal *prometheus.CounterVec
	PermissionCacheEntries            *prometheus.GaugeVec

	// Token verification metrics
	TokenVerificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBQueryDuration     *prometheus.HistogramVec

	// Redis metrics
	RedisCommandsTotal   *prometheus.CounterVec
	RedisCommandDuration *prometheus.HistogramVec

	// Business metrics
	OrganizationsTotal     prometheus.Gauge
	ActiveMembershipsTotal prometheus.Gauge
	APITokensActive        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskhive_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskhive_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Authorization metrics
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_authz_decisions_total",
				Help: "Total number of guard pipeline decisions",
			},
			[]string{"stage", "reason", "allowed"},
		),
		AuthzDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskhive_authz_duration_seconds",
				Help:    "Guard pipeline stage duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"stage"},
		),

		// Permission cache metrics
		PermissionCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"backend"},
		),
		PermissionCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"backend"},
		),
		PermissionCacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_permission_cache_invalidations_total",
				Help: "Total number of permission cache invalidations",
			},
			[]string{"backend", "scope"},
		),
		PermissionCacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskhive_permission_cache_entries",
				Help: "Current number of cached role permission sets",
			},
			[]string{"backend"},
		),

		// Token verification metrics
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_token_verifications_total",
				Help: "Total number of token verification attempts",
			},
			[]string{"verifier", "outcome"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskhive_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskhive_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskhive_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),

		// Redis metrics
		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhive_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
		RedisCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskhive_redis_command_duration_seconds",
				Help:    "Redis command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),

		// Business metrics
		OrganizationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskhive_organizations_total",
				Help: "Total number of organizations",
			},
		),
		ActiveMembershipsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskhive_active_memberships_total",
				Help: "Total number of active memberships",
			},
		),
		APITokensActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskhive_api_tokens_active",
				Help: "Number of unexpired API tokens",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.AuthzDuration,
		m.PermissionCacheHitsTotal,
		m.PermissionCacheMissesTotal,
		m.PermissionCacheInvalidationsTotal,
		m.PermissionCacheEntries,
		m.TokenVerificationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBQueryDuration,
		m.RedisCommandsTotal,
		m.RedisCommandDuration,
		m.OrganizationsTotal,
		m.ActiveMembershipsTotal,
		m.APITokensActive,
	)

	return m
}

// RecordDecision records a guard pipeline decision
func (m *Metrics) RecordDecision(stage, reason string, allowed bool) {
	m.AuthzDecisionsTotal.WithLabelValues(stage, reason, strconv.FormatBool(allowed)).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
