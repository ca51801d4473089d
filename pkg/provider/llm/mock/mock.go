// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests the generation
// engine sends and to feed controlled responses without a live LLM backend.
// Script queues per-call replies; once it is exhausted every call returns
// CompleteResponse, CompleteErr.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Reply{
//	        {Err: errors.New("503")},
//	        {Response: &llm.CompletionResponse{Content: `{"translation":"Hallo"}`}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingoloom/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Reply is one scripted answer to Complete.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// Script is consumed front to back, one Reply per Complete call.
	Script []Reply

	// CompleteResponse is returned by Complete once Script is exhausted.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned once Script is exhausted.
	CompleteErr error

	// CompleteFunc, if set, replaces all of the above.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// TokenCount is returned by CountTokens. When zero, llm.EstimateTokens is used.
	TokenCount int

	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// CountTokensCalls is the number of times CountTokens was called.
	CountTokensCalls int
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var reply Reply
	if len(p.Script) > 0 {
		reply, p.Script = p.Script[0], p.Script[1:]
	} else {
		reply = Reply{Response: p.CompleteResponse, Err: p.CompleteErr}
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return reply.Response, reply.Err
}

// CountTokens records the call and returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls++
	if p.TokenCount == 0 {
		return llm.EstimateTokens(messages), p.CountTokensErr
	}
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CountTokensCalls = 0
}

var _ llm.Provider = (*Provider)(nil)
