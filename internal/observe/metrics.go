// Package observe provides application-wide observability primitives for
// lingoloom: OpenTelemetry metrics, tracing helpers, trace-aware logging and
// the HTTP middleware used by the operations server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lingoloom metrics.
const meterName = "github.com/MrWong99/lingoloom"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks the latency of a single completion attempt.
	LLMDuration metric.Float64Histogram

	// GenerationDuration tracks a whole generation request including retries.
	// Use with attribute.String("kind", ...).
	GenerationDuration metric.Float64Histogram

	// EmbeddingDuration tracks one inference task on the embedding worker.
	EmbeddingDuration metric.Float64Histogram

	// ModerationDuration tracks a moderation check end to end.
	ModerationDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// GenerationAttempts counts model calls made by the generation engine.
	// Use with attribute.String("kind", ...), attribute.String("outcome", ...)
	GenerationAttempts metric.Int64Counter

	// ModerationVerdicts counts moderation results. Use with attributes:
	//   attribute.String("source", "api"|"fallback"), attribute.Bool("flagged", ...)
	ModerationVerdicts metric.Int64Counter

	// MatchDecisions counts answer matcher outcomes. Use with
	// attribute.String("method", "exact"|"semantic"|"passthrough").
	MatchDecisions metric.Int64Counter

	// EmbeddingCacheLookups counts cache lookups. Use with
	// attribute.String("result", "hit"|"miss"|"error").
	EmbeddingCacheLookups metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// EmbeddingQueueDepth tracks tasks waiting for the embedding worker.
	EmbeddingQueueDepth metric.Int64UpDownCounter

	// ActiveGenerations tracks generation requests in flight.
	ActiveGenerations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model inference, which runs from tens of milliseconds to about a minute.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.LLMDuration, "lingoloom.llm.duration", "Latency of a single LLM completion attempt."},
		{&met.GenerationDuration, "lingoloom.generation.duration", "Latency of a generation request including retries."},
		{&met.EmbeddingDuration, "lingoloom.embedding.duration", "Latency of one embedding inference task."},
		{&met.ModerationDuration, "lingoloom.moderation.duration", "Latency of a moderation check."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "lingoloom.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.GenerationAttempts, "lingoloom.generation.attempts", "Model calls made by the generation engine by content kind and outcome."},
		{&met.ModerationVerdicts, "lingoloom.moderation.verdicts", "Moderation verdicts by source and flag."},
		{&met.MatchDecisions, "lingoloom.match.decisions", "Answer matcher decisions by method."},
		{&met.EmbeddingCacheLookups, "lingoloom.embedding.cache.lookups", "Embedding cache lookups by result."},
		{&met.ProviderErrors, "lingoloom.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.EmbeddingQueueDepth, err = m.Int64UpDownCounter("lingoloom.embedding.queue_depth",
		metric.WithDescription("Embedding tasks waiting for the inference worker."),
	); err != nil {
		return nil, err
	}
	if met.ActiveGenerations, err = m.Int64UpDownCounter("lingoloom.active_generations",
		metric.WithDescription("Generation requests currently in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("lingoloom.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGenerationAttempt records one model call for a content kind. Outcome
// is "ok", "invalid" or "error".
func (m *Metrics) RecordGenerationAttempt(ctx context.Context, kind, outcome string) {
	m.GenerationAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordModerationVerdict records a moderation verdict.
func (m *Metrics) RecordModerationVerdict(ctx context.Context, source string, flagged bool) {
	m.ModerationVerdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("flagged", strconv.FormatBool(flagged)),
		),
	)
}

// RecordMatchDecision records which matching stage produced an answer.
func (m *Metrics) RecordMatchDecision(ctx context.Context, method string) {
	m.MatchDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCacheLookup records an embedding cache lookup result.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.EmbeddingCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
