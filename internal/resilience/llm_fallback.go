package resilience

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lingoloom/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several model
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string { return f.group.Names() }

// Available returns nil while at least one backend's breaker admits calls.
func (f *LLMFallback) Available() error {
	for _, e := range f.group.entries {
		if e.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every backend circuit is open (%v)", ErrAllFailed, f.Backends())
}

// Complete sends req to the first healthy backend. A backend that refuses or
// errors is skipped in favour of the next one.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, name, err := ExecuteFrom(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err == nil && name != f.group.entries[0].name {
		slog.InfoContext(ctx, "completion served by fallback backend", "backend", name)
	}
	return resp, err
}

// CountTokens uses the primary's estimate. Token counting is local and the
// prompt budget is checked against the primary's capabilities.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities returns the smallest limits across all backends so a prompt
// that fits is accepted by whichever backend ends up serving it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, e := range f.group.entries[1:] {
		c := e.value.Capabilities()
		if c.ContextWindow > 0 && (caps.ContextWindow == 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && (caps.MaxOutputTokens == 0 || c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
		caps.SupportsStructuredOutput = caps.SupportsStructuredOutput && c.SupportsStructuredOutput
	}
	return caps
}
