package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point of a counter whose attribute key
// has the given value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"lingoloom.llm.duration", m.LLMDuration},
		{"lingoloom.generation.duration", m.GenerationDuration},
		{"lingoloom.embedding.duration", m.EmbeddingDuration},
		{"lingoloom.moderation.duration", m.ModerationDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 4.5)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lingoloom.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "lingoloom.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestGenerationAttempts(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGenerationAttempt(ctx, "vocabulary-lesson", "invalid")
	m.RecordGenerationAttempt(ctx, "vocabulary-lesson", "invalid")
	m.RecordGenerationAttempt(ctx, "vocabulary-lesson", "ok")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lingoloom.generation.attempts", "outcome", "invalid"); got != 2 {
		t.Errorf("invalid attempts = %d, want 2", got)
	}
}

func TestModerationVerdicts(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModerationVerdict(ctx, "api", false)
	m.RecordModerationVerdict(ctx, "fallback", true)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lingoloom.moderation.verdicts", "source", "fallback"); got != 1 {
		t.Errorf("fallback verdicts = %d, want 1", got)
	}
	if got := sumFor(t, rm, "lingoloom.moderation.verdicts", "flagged", "true"); got != 1 {
		t.Errorf("flagged verdicts = %d, want 1", got)
	}
}

func TestMatchAndCacheCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMatchDecision(ctx, "exact")
	m.RecordMatchDecision(ctx, "semantic")
	m.RecordMatchDecision(ctx, "semantic")
	m.RecordCacheLookup(ctx, "hit")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lingoloom.match.decisions", "method", "semantic"); got != 2 {
		t.Errorf("semantic decisions = %d, want 2", got)
	}
	if got := sumFor(t, rm, "lingoloom.embedding.cache.lookups", "result", "hit"); got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordProviderError(context.Background(), "openai", "moderation")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lingoloom.provider.errors", "kind", "moderation"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EmbeddingQueueDepth.Add(ctx, 3)
	m.EmbeddingQueueDepth.Add(ctx, -1)
	m.ActiveGenerations.Add(ctx, 4)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"lingoloom.embedding.queue_depth", 2},
		{"lingoloom.active_generations", 4},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
