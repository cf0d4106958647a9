package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments. They mirror the
// Prometheus families for deployments that export through the collector.
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Authorization metrics
	authzDecisionsTotal metric.Int64Counter
	authzDuration       metric.Float64Histogram

	// Permission cache metrics
	cacheHitsTotal          metric.Int64Counter
	cacheMissesTotal        metric.Int64Counter
	cacheInvalidationsTotal metric.Int64Counter

	// Token verification metrics
	tokenVerificationsTotal metric.Int64Counter

	// Database metrics
	dbQueriesTotal  metric.Int64Counter
	dbQueryDuration metric.Float64Histogram
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/taskhive/taskhive")

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.authzDecisionsTotal, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Total number of guard pipeline decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.authzDuration, err = meter.Float64Histogram(
		"authz.duration",
		metric.WithDescription("Guard pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz duration histogram: %w", err)
	}

	m.cacheHitsTotal, err = meter.Int64Counter(
		"permission_cache.hits",
		metric.WithDescription("Total number of permission cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"permission_cache.misses",
		metric.WithDescription("Total number of permission cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.cacheInvalidationsTotal, err = meter.Int64Counter(
		"permission_cache.invalidations",
		metric.WithDescription("Total number of permission cache invalidations"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache invalidations counter: %w", err)
	}

	m.tokenVerificationsTotal, err = meter.Int64Counter(
		"token.verifications",
		metric.WithDescription("Total number of token verification attempts"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifications counter: %w", err)
	}

	m.dbQueriesTotal, err = meter.Int64Counter(
		"db.queries",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db queries counter: %w", err)
	}

	m.dbQueryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db query duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDecision records a guard pipeline decision
func (m *OTelMetrics) RecordDecision(ctx context.Context, stage, reason string, allowed bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("authz.stage", stage),
		attribute.String("authz.reason", reason),
		attribute.Bool("authz.allowed", allowed),
	}

	m.authzDecisionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.authzDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("authz.stage", stage),
	))
}

// RecordCacheHit records a permission cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, backend string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.backend", backend),
	))
}

// RecordCacheMiss records a permission cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, backend string) {
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.backend", backend),
	))
}

// RecordCacheInvalidation records a permission cache invalidation
func (m *OTelMetrics) RecordCacheInvalidation(ctx context.Context, backend, scope string) {
	m.cacheInvalidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.backend", backend),
		attribute.String("cache.scope", scope),
	))
}

// RecordTokenVerification records a token verification attempt
func (m *OTelMetrics) RecordTokenVerification(ctx context.Context, verifier, outcome string) {
	m.tokenVerificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token.verifier", verifier),
		attribute.String("token.outcome", outcome),
	))
}

// RecordDBQuery records a database query metric
func (m *OTelMetrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.Bool("error", err != nil),
	}

	m.dbQueriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dbQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
