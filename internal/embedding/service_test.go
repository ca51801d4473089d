package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lingoloom/pkg/embedcache"
	"github.com/MrWong99/lingoloom/pkg/provider/embeddings/mock"
)

func newService(t *testing.T, p *mock.Provider, opts ...Option) *Service {
	t.Helper()
	s := New(p, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmbed_ReturnsBackendVector(t *testing.T) {
	p := &mock.Provider{Vectors: map[string][]float32{"Dog": {1, 0}}, ModelIDValue: "m"}
	s := newService(t, p)

	v, err := s.Embed(context.Background(), "Dog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 2 || v[0] != 1 {
		t.Errorf("got %v", v)
	}
	if s.ModelID() != "m" {
		t.Errorf("model id: got %q", s.ModelID())
	}
}

func TestEmbed_SerialisesConcurrentCallers(t *testing.T) {
	p := &mock.Provider{Default: []float32{1, 1}, Delay: 5 * time.Millisecond}
	s := newService(t, p)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.Embed(context.Background(), fmt.Sprintf("text-%d", i))
			} else {
				_, err = s.EmbedBatch(context.Background(), []string{"a", "b"})
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	if p.MaxActive != 1 {
		t.Errorf("backend saw %d concurrent inferences, want 1", p.MaxActive)
	}
	embed, batch := p.Counts()
	if embed != 8 || batch != 8 {
		t.Errorf("calls: embed=%d batch=%d, want 8/8", embed, batch)
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	p := &mock.Provider{Vectors: map[string][]float32{
		"one":   {1},
		"two":   {2},
		"three": {3},
	}}
	s := newService(t, p)

	vecs, err := s.EmbedBatch(context.Background(), []string{"three", "one", "two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{3, 1, 2}
	for i, v := range vecs {
		if v[0] != want[i] {
			t.Errorf("vecs[%d] = %v, want %v", i, v[0], want[i])
		}
	}
	if _, batch := p.Counts(); batch != 1 {
		t.Errorf("batch calls: got %d, want 1", batch)
	}
}

func TestEmbedBatch_FailsAsWhole(t *testing.T) {
	p := &mock.Provider{Default: []float32{1}, Fail: map[string]bool{"bad": true}}
	s := newService(t, p)

	_, err := s.EmbedBatch(context.Background(), []string{"ok", "bad"})
	if !errors.Is(err, mock.ErrFailing) {
		t.Fatalf("expected ErrFailing, got %v", err)
	}
}

func TestEmbed_CacheHitSkipsBackend(t *testing.T) {
	cache, err := embedcache.NewMemory(8)
	if err != nil {
		t.Fatal(err)
	}
	p := &mock.Provider{Vectors: map[string][]float32{"Dog": {1, 0}}, ModelIDValue: "m"}
	s := newService(t, p, WithCache(cache))
	ctx := context.Background()

	if _, err := s.Embed(ctx, "Dog"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Embed(ctx, "Dog"); err != nil {
		t.Fatal(err)
	}
	if embed, _ := p.Counts(); embed != 1 {
		t.Errorf("backend embed calls: got %d, want 1", embed)
	}
	if cache.Len() != 1 {
		t.Errorf("cache len: got %d, want 1", cache.Len())
	}
}

func TestEmbedBatch_OnlyMissesReachBackend(t *testing.T) {
	cache, _ := embedcache.NewMemory(8)
	_ = cache.Put(context.Background(), "m", "cat", []float32{9})
	p := &mock.Provider{Vectors: map[string][]float32{"dog": {1}, "bird": {2}}, ModelIDValue: "m"}
	s := newService(t, p, WithCache(cache))

	vecs, err := s.EmbedBatch(context.Background(), []string{"dog", "cat", "bird"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 9 || vecs[2][0] != 2 {
		t.Errorf("got %v", vecs)
	}
	if got := p.EmbedBatchCalls[0].Texts; len(got) != 2 || got[0] != "dog" || got[1] != "bird" {
		t.Errorf("backend batch: got %v", got)
	}
}

func TestEmbed_PerCallTimeout(t *testing.T) {
	p := &mock.Provider{Default: []float32{1}, Delay: time.Second}
	s := newService(t, p, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := s.Embed(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout was not applied")
	}
}

func TestEmbed_CallerCancellation(t *testing.T) {
	p := &mock.Provider{Default: []float32{1}, Delay: time.Second}
	s := newService(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Embed(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestClose(t *testing.T) {
	p := &mock.Provider{Default: []float32{1}}
	s := New(p)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal("second Close must be a no-op")
	}
	if _, err := s.Embed(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
