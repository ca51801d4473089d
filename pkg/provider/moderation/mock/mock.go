// Package mock provides a test double for the moderation.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

// Provider is a mock implementation of moderation.Provider.
//
// Script is consumed one entry per call; afterwards Result / Err are returned.
// Flag lists texts that are always flagged regardless of the other settings.
type Provider struct {
	mu sync.Mutex

	Script []Reply
	Result moderation.Result
	Err    error
	Flag   map[string]bool

	// NameValue is returned by Name; defaults to "mock".
	NameValue string

	// Calls records every text passed to Classify.
	Calls []string
}

// Reply is one scripted answer.
type Reply struct {
	Result moderation.Result
	Err    error
}

// Classify records the call and returns the next scripted reply.
func (p *Provider) Classify(ctx context.Context, text string) (moderation.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, text)
	if err := ctx.Err(); err != nil {
		return moderation.Result{}, err
	}
	if p.Flag[text] {
		return moderation.Result{Flagged: true}, nil
	}
	if len(p.Script) > 0 {
		r := p.Script[0]
		p.Script = p.Script[1:]
		return r.Result, r.Err
	}
	return p.Result, p.Err
}

// Name returns NameValue or "mock".
func (p *Provider) Name() string {
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// CallCount returns the number of Classify calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ moderation.Provider = (*Provider)(nil)
