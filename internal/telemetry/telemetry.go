package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry encapsulates the meter provider and the Prometheus registry the
// metrics endpoint serves from, and handles their lifecycle.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
}

// New creates a Telemetry instance exporting metrics through a Prometheus
// registry. When enabled is false it returns nil, and the nil-receiver
// metrics helpers make every instrument a no-op.
func New(serviceName, serviceVersion string, enabled bool) (*Telemetry, error) {
	if !enabled {
		slog.Debug("Telemetry disabled")
		return nil, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	return &Telemetry{meterProvider: provider, registry: registry}, nil
}

// MeterProvider returns the meter provider, or nil when telemetry is
// disabled.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t == nil {
		return nil
	}
	return t.meterProvider
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint,
// or nil when telemetry is disabled.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.meterProvider.Shutdown(ctx)
}
