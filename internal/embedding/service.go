// Package embedding runs every text-embedding inference of the process on a
// single worker goroutine.
//
// Local embedding backends hold one model in memory and are not safe for
// parallel inference, so [Service] owns its backend exclusively: callers
// enqueue tasks and the worker serves them one at a time in arrival order.
// Each task carries its own timeout. Cache lookups happen on the caller's
// goroutine before a task is queued, so a slow cache never occupies the
// worker.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/pkg/embedcache"
	"github.com/MrWong99/lingoloom/pkg/provider/embeddings"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("embedding: service closed")

const (
	defaultTimeout   = 10 * time.Second
	defaultQueueSize = 64
)

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets the timeout applied to each inference task. The timer
// starts when the worker picks the task up, not when it is queued.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCache enables an embedding cache.
func WithCache(c embedcache.Store) Option {
	return func(s *Service) { s.cache = c }
}

// WithQueueSize sets how many tasks may wait for the worker before callers
// block on submission.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.queueSize = n
		}
	}
}

// WithMetrics records worker latency, queue depth and cache results on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type task struct {
	ctx   context.Context
	texts []string
	batch bool
	reply chan result
}

type result struct {
	vecs [][]float32
	err  error
}

// Service serialises embedding inference over an [embeddings.Provider].
// It is safe for concurrent use.
type Service struct {
	backend   embeddings.Provider
	cache     embedcache.Store
	timeout   time.Duration
	queueSize int
	metrics   *observe.Metrics

	tasks     chan task
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the inference worker for backend. Call Close to stop it.
func New(backend embeddings.Provider, opts ...Option) *Service {
	s := &Service{
		backend:   backend,
		timeout:   defaultTimeout,
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(s)
	}
	s.tasks = make(chan task, s.queueSize)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
	return s
}

// ModelID returns the backend's model identifier.
func (s *Service) ModelID() string { return s.backend.ModelID() }

// Dimensions returns the backend's vector size.
func (s *Service) Dimensions() int { return s.backend.Dimensions() }

// Embed returns the vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.cached(ctx, text); ok {
		return v, nil
	}
	vecs, err := s.submit(ctx, []string{text}, false)
	if err != nil {
		return nil, err
	}
	s.store(ctx, text, vecs[0])
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. Texts missing from
// the cache are sent to the backend as a single task; if that task fails the
// whole call fails.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if v, ok := s.cached(ctx, t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := s.submit(ctx, missing, true)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding: backend returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, i := range slots {
		out[i] = vecs[j]
		s.store(ctx, missing[j], vecs[j])
	}
	return out, nil
}

// Close stops the worker. Queued tasks that have not started fail with
// ErrClosed; a task already running is allowed to finish. Close is
// idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *Service) submit(ctx context.Context, texts []string, batch bool) ([][]float32, error) {
	t := task{ctx: ctx, texts: texts, batch: batch, reply: make(chan result, 1)}

	select {
	case <-s.quit:
		return nil, ErrClosed
	default:
	}
	select {
	case s.tasks <- t:
		s.queueDepth(ctx, 1)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, ErrClosed
	}

	select {
	case r := <-t.reply:
		return r.vecs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		// The worker may have answered just before exiting.
		select {
		case r := <-t.reply:
			return r.vecs, r.err
		default:
			return nil, ErrClosed
		}
	}
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case t := <-s.tasks:
			s.queueDepth(t.ctx, -1)
			t.reply <- s.infer(t)
		case <-s.quit:
			s.drain()
			return
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case t := <-s.tasks:
			s.queueDepth(t.ctx, -1)
			t.reply <- result{err: ErrClosed}
		default:
			return
		}
	}
}

func (s *Service) infer(t task) result {
	if err := t.ctx.Err(); err != nil {
		return result{err: err}
	}
	ctx, cancel := context.WithTimeout(t.ctx, s.timeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "embedding.infer")
	span.SetAttributes(attribute.Int("texts", len(t.texts)))

	start := time.Now()
	var r result
	if t.batch {
		r.vecs, r.err = s.backend.EmbedBatch(ctx, t.texts)
	} else {
		var v []float32
		if v, r.err = s.backend.Embed(ctx, t.texts[0]); r.err == nil {
			r.vecs = [][]float32{v}
		}
	}

	if s.metrics != nil {
		s.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if r.err != nil {
			status = "error"
			s.metrics.RecordProviderError(ctx, s.backend.ModelID(), "embeddings")
		}
		s.metrics.RecordProviderRequest(ctx, s.backend.ModelID(), "embeddings", status)
	}
	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) && t.ctx.Err() == nil {
			r.err = fmt.Errorf("embedding: inference timed out after %s: %w", s.timeout, r.err)
		} else {
			r.err = fmt.Errorf("embedding: %w", r.err)
		}
	}
	observe.EndSpan(span, r.err)
	return r
}

func (s *Service) cached(ctx context.Context, text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok, err := s.cache.Get(ctx, s.backend.ModelID(), text)
	switch {
	case err != nil:
		observe.Logger(ctx).Warn("embedding cache lookup failed", "err", err)
		s.cacheLookup(ctx, "error")
		return nil, false
	case ok:
		s.cacheLookup(ctx, "hit")
		return v, true
	default:
		s.cacheLookup(ctx, "miss")
		return nil, false
	}
}

func (s *Service) store(ctx context.Context, text string, vec []float32) {
	if s.cache == nil || len(vec) == 0 {
		return
	}
	if err := s.cache.Put(ctx, s.backend.ModelID(), text, vec); err != nil {
		slog.Warn("embedding cache store failed", "err", err)
	}
}

func (s *Service) cacheLookup(ctx context.Context, res string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, res)
	}
}

func (s *Service) queueDepth(ctx context.Context, delta int64) {
	if s.metrics != nil {
		s.metrics.EmbeddingQueueDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("model", s.backend.ModelID())))
	}
}

var _ embeddings.Provider = (*Service)(nil)
