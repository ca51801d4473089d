package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock drives a breaker's notion of time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.now
	return cb, clk
}

func fail(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults: got %d/%v/%d", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "test" {
		t.Errorf("name = %q", cb.Name())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3})

	fail(cb, 2)
	_ = cb.Execute(func() error { return nil })
	fail(cb, 2)
	if cb.State() != StateClosed {
		t.Fatal("a success must reset the failure count")
	}

	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker: err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_HalfOpenCloses(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 2})
	fail(cb, 1)

	clk.advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	for range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 2})
	fail(cb, 1)
	clk.advance(time.Minute)

	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	clk.advance(30 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("reset timeout restarts on re-open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	fail(cb, 1)
	clk.advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe: got %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1})
	_ = cb.Execute(func() error { return context.Canceled })
	if cb.State() != StateClosed {
		t.Fatal("context cancellation must not open the breaker")
	}
}

func TestCircuitBreaker_CustomClassifier(t *testing.T) {
	errBadRequest := errors.New("bad request")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errBadRequest) },
	})
	_ = cb.Execute(func() error { return errBadRequest })
	if cb.State() != StateClosed {
		t.Fatal("classified error must not count")
	}
	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatal("unclassified error must count")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var got []string
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "mod",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+">"+to.String())
		},
	})

	fail(cb, 1)
	clk.advance(time.Second)
	_ = cb.Execute(func() error { return nil })

	want := []string{"mod:closed>open", "mod:open>half-open", "mod:half-open>closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	fail(cb, 1)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
