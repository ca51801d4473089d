// Package mock provides a test double for the embeddings.Provider interface.
//
// Vectors maps a text to the vector returned for it; texts listed in Fail
// produce an error. Texts found in neither fall back to Default / Err.
//
//	p := &mock.Provider{
//	    Vectors: map[string][]float32{"Dog": {1, 0}, "Canine": {0.9, 0.1}},
//	}
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/lingoloom/pkg/provider/embeddings"
)

// ErrFailing is returned for texts listed in Provider.Fail.
var ErrFailing = errors.New("mock embeddings: forced failure")

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors holds per-text results.
	Vectors map[string][]float32

	// Fail lists texts whose embedding fails with ErrFailing.
	Fail map[string]bool

	// Default is returned for texts missing from Vectors.
	Default []float32

	// Err, if non-nil, is returned for texts missing from Vectors.
	Err error

	// BatchErr, if non-nil, fails every EmbedBatch call.
	BatchErr error

	// Delay is slept (context-aware) before answering.
	Delay time.Duration

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall

	// active tracks concurrent calls; MaxActive is the highest value seen.
	active    int
	MaxActive int
}

// Embed records the call and returns the configured vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	p.mu.Unlock()

	done := p.enter()
	defer done()
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookup(text)
}

// EmbedBatch records the call. It fails as a whole if BatchErr is set or any
// text fails.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: append([]string(nil), texts...)})
	p.mu.Unlock()

	done := p.enter()
	defer done()
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BatchErr != nil {
		return nil, p.BatchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.lookup(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *Provider) lookup(text string) ([]float32, error) {
	if p.Fail[text] {
		return nil, ErrFailing
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return p.Default, p.Err
}

func (p *Provider) enter() func() {
	p.mu.Lock()
	p.active++
	if p.active > p.MaxActive {
		p.MaxActive = p.active
	}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *Provider) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Counts returns the number of Embed and EmbedBatch calls so far.
func (p *Provider) Counts() (embed, batch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls), len(p.EmbedBatchCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.MaxActive = 0
}

var _ embeddings.Provider = (*Provider)(nil)
