// Package moderation decides whether free text may enter or leave the
// generation pipeline.
//
// A [Gate] asks an external classifier first. Every request to it waits for
// the process-wide rate limiter, runs under its own timeout and is retried
// with exponential backoff on timeouts, 429, 5xx and network errors. When
// that path is exhausted, or its circuit breaker is open, the text is judged
// offline by [Local]: language detection followed by a per-language
// profanity lexicon. The Gate therefore always produces a verdict; the only
// error it returns is the caller's own context error.
package moderation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/internal/resilience"
	provider "github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

// Verdict sources.
const (
	SourceAPI      = "api"
	SourceFallback = "fallback"
)

// Verdict is the outcome of a moderation check.
type Verdict struct {
	Flagged bool

	// Source is SourceAPI or SourceFallback.
	Source string

	// Categories lists what was flagged, when known.
	Categories []string

	// Language is the detected ISO 639-1 code. Only set by the fallback.
	Language string
}

// Config tunes the API path of a Gate. Zero values select defaults.
type Config struct {
	// Requests per Window admitted by the rate limiter. Zero disables
	// limiting.
	Requests int
	Window   time.Duration

	// CallTimeout bounds one API request including its wait for the rate
	// limiter. Default: 5s.
	CallTimeout time.Duration

	// MaxRetries is the number of retries after the first request.
	// Default: 3. Negative disables retrying.
	MaxRetries int

	// Backoff is the first retry delay, doubled per retry with 10% jitter
	// and capped at MaxBackoff. Defaults: 200ms and 2s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// CircuitBreaker guards the API path. Name is ignored.
	CircuitBreaker resilience.CircuitBreakerConfig
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	return c
}

// Option configures a Gate.
type Option func(*Gate)

// WithLocal replaces the default offline classifier.
func WithLocal(l *Local) Option {
	return func(g *Gate) { g.local = l }
}

// WithMetrics records verdicts and latencies on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// classifier is one stage of the fallback group.
type classifier interface {
	classify(ctx context.Context, text string) (Verdict, error)
}

func (l *Local) classify(ctx context.Context, text string) (Verdict, error) {
	return l.Inspect(ctx, text)
}

// Gate is safe for concurrent use.
type Gate struct {
	cfg     Config
	api     *apiPath
	local   *Local
	group   *resilience.FallbackGroup[classifier]
	metrics *observe.Metrics
}

// New builds a Gate in front of p. A nil p yields a Gate that only uses the
// offline classifier.
func New(p provider.Provider, cfg Config, opts ...Option) (*Gate, error) {
	g := &Gate{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(g)
	}
	if g.local == nil {
		l, err := NewLocal()
		if err != nil {
			return nil, err
		}
		g.local = l
	}

	fbCfg := resilience.FallbackConfig{CircuitBreaker: g.cfg.CircuitBreaker}
	// A refused limiter reservation is local back-pressure, not a provider
	// failure, and must not open the API circuit.
	isFailure := fbCfg.CircuitBreaker.IsFailure
	if isFailure == nil {
		isFailure = resilience.CountsAsFailure
	}
	fbCfg.CircuitBreaker.IsFailure = func(err error) bool {
		return isFailure(err) && !errors.Is(err, ErrLimited)
	}
	if p == nil {
		g.group = resilience.NewFallbackGroup[classifier](g.local, SourceFallback, fbCfg)
		return g, nil
	}

	var limiter *rate.Limiter
	if g.cfg.Requests > 0 {
		limiter = rate.NewLimiter(rate.Every(g.cfg.Window/time.Duration(g.cfg.Requests)), g.cfg.Requests)
	}
	g.api = &apiPath{provider: p, limiter: limiter, cfg: g.cfg, metrics: g.metrics}
	g.group = resilience.NewFallbackGroup[classifier](g.api, SourceAPI, fbCfg)
	g.group.AddFallback(SourceFallback, g.local)
	return g, nil
}

// Check classifies text. Blank text is never flagged and never reaches a
// backend. The returned error is non-nil only when ctx is done.
func (g *Gate) Check(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, nil
	}

	ctx, span := observe.StartSpan(ctx, "moderation.check")
	defer span.End()
	start := time.Now()

	v, _, err := resilience.ExecuteFrom(ctx, g.group, func(c classifier) (Verdict, error) {
		return c.classify(ctx, text)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, ctxErr
		}
		// Every stage failed or is tripped. The offline classifier only
		// fails on cancellation, so ask it directly.
		observe.Logger(ctx).Warn("moderation: all stages failed, using lexicon", "err", err)
		if v, err = g.local.Inspect(ctx, text); err != nil {
			return Verdict{}, err
		}
	}

	span.SetAttributes(attribute.String("source", v.Source), attribute.Bool("flagged", v.Flagged))
	if g.metrics != nil {
		g.metrics.ModerationDuration.Record(ctx, time.Since(start).Seconds())
		g.metrics.RecordModerationVerdict(ctx, v.Source, v.Flagged)
	}
	if v.Flagged {
		observe.Logger(ctx).Info("moderation: text flagged", "source", v.Source, "categories", v.Categories)
	}
	return v, nil
}

// IsFlagged reports whether text violates the content policy.
func (g *Gate) IsFlagged(ctx context.Context, text string) (bool, error) {
	v, err := g.Check(ctx, text)
	return v.Flagged, err
}

// CheckAll checks each text in order and returns the first flagged verdict,
// or an unflagged verdict if none is flagged.
func (g *Gate) CheckAll(ctx context.Context, texts ...string) (Verdict, error) {
	var last Verdict
	for _, t := range texts {
		v, err := g.Check(ctx, t)
		if err != nil {
			return Verdict{}, err
		}
		if v.Flagged {
			return v, nil
		}
		last = v
	}
	return last, nil
}

// Healthy reports whether the API path is usable, i.e. its breaker is not
// open. A Gate without an API is always healthy.
func (g *Gate) Healthy() bool {
	cb := g.group.Breaker(SourceAPI)
	return cb == nil || cb.State() != resilience.StateOpen
}
