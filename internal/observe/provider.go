package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures telemetry for a lingoloom process.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "lingoloom".
	ServiceName string

	// ServiceVersion is reported as service.version, normally the build
	// version printed by -version.
	ServiceVersion string

	// TraceExporter receives the generation.generate, moderation.check,
	// embedding.infer and batch.item spans. When nil, spans still carry
	// trace IDs into the logs but go nowhere else.
	TraceExporter sdktrace.SpanExporter

	// Registerer is where the Prometheus bridge registers its collector.
	// Default: [prometheus.DefaultRegisterer], which the ops listener's
	// /metrics handler serves.
	Registerer prometheus.Registerer
}

// InitProvider installs the global OTel meter and tracer providers used by
// the generation engine, moderation gate, answer matcher and embedding
// provider.
//
// Meters are bridged to Prometheus, so after InitProvider the instruments
// built by [NewMetrics] show up on /metrics in Prometheus form:
//
//   - lingoloom.llm.duration, lingoloom.generation.duration,
//     lingoloom.embedding.duration, lingoloom.moderation.duration and
//     lingoloom.http.request.duration histograms
//   - lingoloom.provider.requests, lingoloom.provider.errors,
//     lingoloom.generation.attempts, lingoloom.moderation.verdicts,
//     lingoloom.match.decisions and lingoloom.embedding.cache.lookups
//     counters
//   - lingoloom.embedding.queue_depth and lingoloom.active_generations
//     gauges
//
// InitProvider must run before the first [DefaultMetrics] call, which binds
// to whatever meter provider is global at that point.
//
// The returned shutdown flushes pending spans and stops both providers. main
// defers it with its own timeout so a batch that ends on a signal still
// exports its last spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lingoloom"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: telemetry resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	bridge, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus bridge: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)

	tracerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tracerOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	// Tracer first: flushing spans may still record metrics.
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
