// Package embeddings defines the Provider interface for text embedding backends.
//
// A provider maps strings to dense float32 vectors. lingoloom uses them to
// compare a free-text model answer against a fixed set of choices; callers
// go through internal/embedding, which serialises inference, rather than
// using a Provider directly.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the same dimensionality. Vectors
// from different models must never be compared with each other.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the vector for a single text. The text is passed through
	// verbatim; model-specific prefixes are the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for texts in a single backend call. The i-th
	// result corresponds to texts[i]. On error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length, or 0 if it is not known yet.
	Dimensions() int

	// ModelID returns the backend model identifier, e.g. "text-embedding-3-small".
	// Caches key their entries by it.
	ModelID() string
}
