// Package telemetry provides OpenTelemetry instrumentation for the console.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ClientMetricsMeterName is the name used for the resource client meter.
	ClientMetricsMeterName = "github.com/storelink/catalog-console/httpclient"

	// SyncMetricsMeterName is the name used for the sync orchestrator meter.
	SyncMetricsMeterName = "github.com/storelink/catalog-console/sync"
)

// ClientMetrics holds the OpenTelemetry instruments for the resource client.
type ClientMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	breakerState    metric.Int64Gauge
}

// NewClientMetrics creates a new ClientMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewClientMetrics(provider metric.MeterProvider) (*ClientMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ClientMetricsMeterName)

	requestsTotal, err := meter.Int64Counter(
		"catalog_console_client_requests_total",
		metric.WithDescription("Number of upstream requests by method and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"catalog_console_client_request_duration_seconds",
		metric.WithDescription("Duration of upstream requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"catalog_console_client_cache_hits_total",
		metric.WithDescription("Number of response cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"catalog_console_client_cache_misses_total",
		metric.WithDescription("Number of response cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	breakerState, err := meter.Int64Gauge(
		"catalog_console_client_breaker_state",
		metric.WithDescription("Circuit breaker state per upstream target (0 closed, 1 half-open, 2 open)"),
	)
	if err != nil {
		return nil, err
	}

	return &ClientMetrics{
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		breakerState:    breakerState,
	}, nil
}

// RecordRequest records one upstream request. An empty errorKind means the
// request succeeded.
func (m *ClientMetrics) RecordRequest(ctx context.Context, method, path, errorKind string, duration time.Duration) {
	if m == nil || m.requestsTotal == nil {
		return
	}

	outcome := errorKind
	if outcome == "" {
		outcome = "success"
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	}

	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheHit records a response cache hit.
func (m *ClientMetrics) RecordCacheHit(ctx context.Context, path string) {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordBreakerState records the circuit state of one upstream target. The
// value is 0 for closed, 1 for half-open, 2 for open.
func (m *ClientMetrics) RecordBreakerState(ctx context.Context, target string, state int64) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("target", target)))
}

// RecordCacheMiss records a response cache miss.
func (m *ClientMetrics) RecordCacheMiss(ctx context.Context, path string) {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// SyncMetrics holds the OpenTelemetry instruments for sync jobs.
type SyncMetrics struct {
	jobDuration    metric.Float64Histogram
	sourceFailures metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	jobDuration, err := meter.Float64Histogram(
		"catalog_console_sync_job_duration_seconds",
		metric.WithDescription("Duration of sync jobs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	sourceFailures, err := meter.Int64Counter(
		"catalog_console_sync_source_failures_total",
		metric.WithDescription("Number of stock sources that failed to sync"),
		metric.WithUnit("{source}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		jobDuration:    jobDuration,
		sourceFailures: sourceFailures,
	}, nil
}

// RecordJob records the outcome of one sync job.
func (m *SyncMetrics) RecordJob(ctx context.Context, kind, state string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("state", state),
	}
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSourceFailure records a stock source that exhausted its retries.
func (m *SyncMetrics) RecordSourceFailure(ctx context.Context, source string) {
	if m == nil || m.sourceFailures == nil {
		return
	}
	m.sourceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
