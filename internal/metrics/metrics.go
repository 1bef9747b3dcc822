// Package metrics defines the daemon's OpenTelemetry instruments and
// provider bootstrap, grounded on internal/storage/dolt/store.go's
// package-level instrument-struct-registered-at-init pattern
// (doltMetrics / otel.Meter(...)).
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/steveyegge/bdviewd"

// Metrics holds the daemon's instruments. Registered against the
// global delegating provider at construction time, so they forward to
// the real provider once InitProvider runs, or remain no-ops
// otherwise.
type Metrics struct {
	Connections     metric.Int64UpDownCounter
	Subscriptions   metric.Int64UpDownCounter
	Refreshes       metric.Int64Counter
	RefreshFailures metric.Int64Counter
	RefreshLatency  metric.Float64Histogram
	Mutations       metric.Int64Counter
}

// New registers the daemon's instruments against the current global
// meter provider.
func New() *Metrics {
	m := otel.Meter(instrumentationName)

	metrics := &Metrics{}
	metrics.Connections, _ = m.Int64UpDownCounter("bdviewd.connections",
		metric.WithDescription("currently connected browser sessions"),
		metric.WithUnit("{connection}"))
	metrics.Subscriptions, _ = m.Int64UpDownCounter("bdviewd.subscriptions",
		metric.WithDescription("currently active subscription keys"),
		metric.WithUnit("{subscription}"))
	metrics.Refreshes, _ = m.Int64Counter("bdviewd.refreshes",
		metric.WithDescription("subscription refreshes completed"),
		metric.WithUnit("{refresh}"))
	metrics.RefreshFailures, _ = m.Int64Counter("bdviewd.refresh_failures",
		metric.WithDescription("subscription refreshes that failed to invoke the tracker"),
		metric.WithUnit("{refresh}"))
	metrics.RefreshLatency, _ = m.Float64Histogram("bdviewd.refresh_latency_ms",
		metric.WithDescription("time spent invoking the tracker CLI for one refresh"),
		metric.WithUnit("ms"))
	metrics.Mutations, _ = m.Int64Counter("bdviewd.mutations",
		metric.WithDescription("mutation requests handled"),
		metric.WithUnit("{mutation}"))

	return metrics
}

// InitProvider installs the global MeterProvider: an OTLP/HTTP exporter
// when otlpEndpoint is non-empty, a stdout exporter otherwise (local
// runs with no collector). The returned shutdown func must be called
// on daemon exit to flush pending metrics.
func InitProvider(ctx context.Context, otlpEndpoint string) (shutdown func(context.Context) error, err error) {
	var reader sdkmetric.Reader

	if otlpEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(otlpEndpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	} else {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(time.Minute))
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}
