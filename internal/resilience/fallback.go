package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker. It wraps the last entry's error.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the circuit breaker created for each entry of a
// [FallbackGroup]. Name is overwritten with the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback instances of the
// same backend type, each behind its own circuit breaker. Entries are tried
// in registration order.
//
// Entries must be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after every entry registered before it.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Breaker returns the circuit breaker guarding the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, _, err := ExecuteFrom(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in order until one succeeds
// and returns its result.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	r, _, err := ExecuteFrom(ctx, fg, fn)
	return r, err
}

// ExecuteFrom is ExecuteWithResult that also reports the name of the entry
// that produced the result. Entries whose breaker is open are skipped.
//
// Once ctx is done no further entry is tried and ctx.Err() is returned, so a
// caller that gave up never lands on a fallback.
func ExecuteFrom[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, "", err
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
