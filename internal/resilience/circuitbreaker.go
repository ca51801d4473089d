// Package resilience provides the circuit breaker and failover primitives
// shared by the moderation gate and the LLM failover chain.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] puts one breaker in front of each of several interchangeable
// backends and tries them in registration order, so a failing primary is
// bypassed in favour of the next healthy entry.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open, and
	// the number of successes needed to close again. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error returned by the protected call
	// counts against the breaker. Nil uses [CountsAsFailure].
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// CountsAsFailure is the default failure classifier. Cancellation of the
// caller's context says nothing about the health of the backend and is not
// counted.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = CountsAsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome. While
// open it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	}

	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.halfOpenCalls++
			probe = true
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return probe, err
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state

	switch {
	case err != nil && cb.isFailure(err):
		cb.consecutiveFail++
		if probe || cb.consecutiveFail >= cb.maxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	case err != nil:
		// Not the backend's fault. A probe slot is handed back.
		if probe && cb.state == StateHalfOpen {
			cb.halfOpenCalls--
		}
	default:
		cb.consecutiveFail = 0
		if probe && cb.state == StateHalfOpen {
			cb.halfOpenOK++
			if cb.halfOpenOK >= cb.halfOpenMax {
				cb.state = StateClosed
			}
		}
	}
	to := cb.state
	failures := cb.consecutiveFail
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", cb.name, "from", from.String(), "consecutive_failures", failures)
		}
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	slog.Debug("circuit breaker state change", "name", cb.name, "from", from.String(), "to", to.String())
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
