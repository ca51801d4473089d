// Package app wires all lingoloom components into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// moderation gate, the embedding service with its cache, the answer matcher
// and the generation engine; Generate and RunBatch serve requests; Reload
// applies hot-reloadable config changes; Shutdown tears everything down in
// order.
//
// For testing, inject test doubles via functional options (WithMetrics,
// WithEmbeddingCache, WithPromptRegistry). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/lingoloom/internal/answer"
	"github.com/MrWong99/lingoloom/internal/config"
	"github.com/MrWong99/lingoloom/internal/embedding"
	"github.com/MrWong99/lingoloom/internal/generation"
	"github.com/MrWong99/lingoloom/internal/health"
	"github.com/MrWong99/lingoloom/internal/moderation"
	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/internal/prompt"
	"github.com/MrWong99/lingoloom/pkg/embedcache"
	pgcache "github.com/MrWong99/lingoloom/pkg/embedcache/postgres"
	"github.com/MrWong99/lingoloom/pkg/provider/embeddings"
	"github.com/MrWong99/lingoloom/pkg/provider/llm"
	modprovider "github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM is required. main.go wraps the configured fallbacks around it.
	LLM llm.Provider

	// Embeddings enables semantic answer matching. Without it answers are
	// matched exactly only.
	Embeddings embeddings.Provider

	// Moderation is the remote classifier. Without it the offline lexicon
	// classifies everything.
	Moderation modprovider.Provider
}

// App owns all component lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	prompts  *prompt.Registry
	metrics  *observe.Metrics
	cache    embedcache.Store
	gate     *moderation.Gate
	embedder *embedding.Service

	// engine is swapped on reload; in-flight requests finish on the engine
	// they started with.
	engine atomic.Pointer[generation.Engine]

	// reloadMu serialises Reload and guards cfg.
	reloadMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEmbeddingCache injects an embedding cache instead of creating one from
// config.
func WithEmbeddingCache(c embedcache.Store) Option {
	return func(a *App) { a.cache = c }
}

// WithPromptRegistry injects a prompt registry instead of loading the
// embedded one.
func WithPromptRegistry(r *prompt.Registry) Option {
	return func(a *App) { a.prompts = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all components together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Prompt registry ───────────────────────────────────────────────
	if a.prompts == nil {
		reg, err := prompt.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("app: load prompts: %w", err)
		}
		a.prompts = reg
	}

	// ── 2. Moderation gate ───────────────────────────────────────────────
	if err := a.initModeration(); err != nil {
		return nil, fmt.Errorf("app: init moderation: %w", err)
	}

	// ── 3. Embedding service + cache ─────────────────────────────────────
	if err := a.initEmbedding(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init embedding: %w", err)
	}

	// ── 4. Generation engine ─────────────────────────────────────────────
	e, err := a.buildEngine(cfg)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	a.engine.Store(e)

	slog.Info("application initialised",
		"languages", len(a.prompts.Languages()),
		"moderation", moderationMode(providers.Moderation),
		"semantic_matching", a.embedder != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initModeration() error {
	local, err := moderation.NewLocal(a.cfg.Moderation.LocalOptions()...)
	if err != nil {
		return err
	}
	gate, err := moderation.New(a.providers.Moderation, a.cfg.Moderation.Gate(),
		moderation.WithLocal(local),
		moderation.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.gate = gate
	return nil
}

// initEmbedding starts the embedding worker. A configured postgres DSN takes
// precedence over the in-memory cache size.
func (a *App) initEmbedding(ctx context.Context) error {
	if a.providers.Embeddings == nil {
		return nil
	}
	ec := a.cfg.Embedding

	if a.cache == nil {
		switch {
		case ec.Cache.PostgresDSN != "":
			store, err := pgcache.New(ctx, ec.Cache.PostgresDSN)
			if err != nil {
				return err
			}
			a.cache = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		case ec.Cache.Size > 0:
			mem, err := embedcache.NewMemory(ec.Cache.Size)
			if err != nil {
				return err
			}
			a.cache = mem
		}
	}

	opts := []embedding.Option{embedding.WithMetrics(a.metrics)}
	if ec.Timeout > 0 {
		opts = append(opts, embedding.WithTimeout(ec.Timeout))
	}
	if ec.QueueSize > 0 {
		opts = append(opts, embedding.WithQueueSize(ec.QueueSize))
	}
	if a.cache != nil {
		opts = append(opts, embedding.WithCache(a.cache))
	}
	a.embedder = embedding.New(a.providers.Embeddings, opts...)
	// Stop the worker before the cache it writes to is closed.
	a.closers = append([]func() error{a.embedder.Close}, a.closers...)
	return nil
}

// buildEngine creates a generation engine from cfg around the long-lived
// providers, gate and embedder.
func (a *App) buildEngine(cfg *config.Config) (*generation.Engine, error) {
	var emb answer.Embedder
	if a.embedder != nil {
		emb = a.embedder
	}
	var mopts []answer.Option
	mopts = append(mopts, answer.WithMetrics(a.metrics))
	if t := cfg.Matching.SimilarityThreshold; t != nil {
		mopts = append(mopts, answer.WithThreshold(*t))
	}
	matcher := answer.New(emb, mopts...)

	return generation.New(a.providers.LLM, a.prompts, cfg.Generation.Engine(cfg.Providers.LLM.Model),
		generation.WithModerator(a.gate),
		generation.WithAnswerMatcher(matcher),
		generation.WithMetrics(a.metrics),
	)
}

func moderationMode(p modprovider.Provider) string {
	if p == nil {
		return "lexicon"
	}
	return p.Name() + "+lexicon"
}

// ─── Serving ─────────────────────────────────────────────────────────────────

// Engine returns the current generation engine.
func (a *App) Engine() *generation.Engine {
	return a.engine.Load()
}

// Generate runs req on the current engine.
func (a *App) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	return a.engine.Load().Generate(ctx, req)
}

// Moderation returns the moderation gate.
func (a *App) Moderation() *moderation.Gate {
	return a.gate
}

// Config returns the config the App currently runs with.
func (a *App) Config() *config.Config {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.cfg
}

// Reload applies the hot-reloadable parts of next. Generation tunables and
// the matching threshold rebuild the engine; sections listed in
// d.RestartRequired are ignored until the process restarts. The log level is
// the caller's concern.
func (a *App) Reload(next *config.Config, d config.ConfigDiff) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if !d.GenerationChanged && !d.MatchingChanged {
		return nil
	}

	// Keep the sections that need a restart as they were at startup.
	merged := *a.cfg
	merged.Server.LogLevel = next.Server.LogLevel
	merged.Generation = next.Generation
	merged.Generation.CircuitBreaker = a.cfg.Generation.CircuitBreaker
	merged.Matching = next.Matching

	e, err := a.buildEngine(&merged)
	if err != nil {
		return fmt.Errorf("app: reload: %w", err)
	}
	a.engine.Store(e)
	a.cfg = &merged
	slog.Info("generation engine rebuilt",
		"generation_changed", d.GenerationChanged,
		"matching_changed", d.MatchingChanged,
	)
	return nil
}

// Checkers returns the readiness checks for the configured components. The
// model is required; moderation and the embedding cache are optional since
// lingoloom degrades gracefully without them.
func (a *App) Checkers() []health.Checker {
	var cs []health.Checker
	if av, ok := a.providers.LLM.(interface{ Available() error }); ok {
		cs = append(cs, health.Checker{
			Name:  "llm",
			Check: func(context.Context) error { return av.Available() },
		})
	}
	cs = append(cs, health.Checker{
		Name:     "moderation",
		Optional: true,
		Check: func(context.Context) error {
			if !a.gate.Healthy() {
				return errors.New("api circuit open, classifying with the lexicon")
			}
			return nil
		},
	})
	if p, ok := a.cache.(interface{ Ping(context.Context) error }); ok {
		cs = append(cs, health.Checker{Name: "embedding_cache", Optional: true, Check: p.Ping})
	}
	return cs
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all components in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what New acquired before it failed.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}
