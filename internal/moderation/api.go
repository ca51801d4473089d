package moderation

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/MrWong99/lingoloom/internal/observe"
	provider "github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

// ErrLimited is returned by the API path when the rate limiter cannot admit
// a request before the call timeout.
var ErrLimited = errors.New("moderation: rate limit wait exceeds call timeout")

// apiPath calls the external classifier under the rate limiter and the retry
// policy.
type apiPath struct {
	provider provider.Provider
	limiter  *rate.Limiter
	cfg      Config
	metrics  *observe.Metrics
}

func (a *apiPath) backoff() retry.Backoff {
	b := retry.NewExponential(a.cfg.Backoff)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(a.cfg.MaxBackoff, b)
	retries := uint64(0)
	if a.cfg.MaxRetries > 0 {
		retries = uint64(a.cfg.MaxRetries)
	}
	return retry.WithMaxRetries(retries, b)
}

func (a *apiPath) classify(ctx context.Context, text string) (Verdict, error) {
	var res provider.Result
	attempt := 0
	err := retry.Do(ctx, a.backoff(), func(ctx context.Context) error {
		attempt++
		var err error
		res, err = a.once(ctx, text)
		if err == nil {
			return nil
		}
		if retryable(ctx, err) {
			observe.Logger(ctx).Debug("moderation: retrying", "provider", a.provider.Name(), "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: %s after %d attempt(s): %w", a.provider.Name(), attempt, err)
	}
	return Verdict{Flagged: res.Flagged, Source: SourceAPI, Categories: res.Categories}, nil
}

// once performs a single request. The limiter wait counts against the call
// timeout so an over-limit caller gives up instead of queueing indefinitely.
func (a *apiPath) once(ctx context.Context, text string) (provider.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// Wait refuses up front when the reservation would end
				// after the deadline.
				return provider.Result{}, fmt.Errorf("%w: %v", ErrLimited, err)
			}
			return provider.Result{}, err
		}
	}

	res, err := a.provider.Classify(ctx, text)
	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			a.metrics.RecordProviderError(ctx, a.provider.Name(), "moderation")
		}
		a.metrics.RecordProviderRequest(ctx, a.provider.Name(), "moderation", status)
	}
	return res, err
}

// retryable reports whether err is worth another request. parent is the
// context of the whole check; once it is done nothing is retried.
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
