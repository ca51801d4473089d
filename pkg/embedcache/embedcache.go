// Package embedcache stores embedding vectors keyed by (model, text) so the
// same choice string is embedded once per model rather than once per match.
//
// Two stores are provided: Memory, a bounded in-process LRU, and
// embedcache/postgres, a persistent pgvector-backed table shared across
// processes.
package embedcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is the interface satisfied by every embedding cache.
//
// Implementations must be safe for concurrent use. A miss is reported as
// (nil, false, nil); errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Put(ctx context.Context, model, text string, vec []float32) error
}

type key struct {
	model string
	text  string
}

// Memory is an in-process LRU Store.
type Memory struct {
	cache *lru.Cache[key, []float32]
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory holding at most size vectors.
func NewMemory(size int) (*Memory, error) {
	c, err := lru.New[key, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedcache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, model, text string) ([]float32, bool, error) {
	v, ok := m.cache.Get(key{model, text})
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), v...), true, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, model, text string, vec []float32) error {
	m.cache.Add(key{model, text}, append([]float32(nil), vec...))
	return nil
}

// Len returns the number of cached vectors.
func (m *Memory) Len() int { return m.cache.Len() }
