// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, Gemini,
// a local Ollama instance, ...) and exposes a uniform interface the generation
// engine uses to request schema-constrained completions, estimate prompt size
// and inspect model limits without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ResponseSchema constrains the model's answer to a JSON document matching
// Schema. Providers with native structured-output support pass it to the
// backend; others describe it in the system prompt.
type ResponseSchema struct {
	// Name identifies the schema towards the backend. Must match
	// ^[a-zA-Z0-9_-]{1,64}$ for OpenAI-compatible APIs.
	Name string

	Description string

	// Schema is the decoded JSON Schema document.
	Schema map[string]any

	// Strict requests exact schema adherence where the backend supports it.
	// Strict schemas must list every property as required and forbid
	// additional properties.
	Strict bool
}

// CompletionRequest carries everything the LLM needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation.
	SystemPrompt string

	// ResponseSchema, when non-nil, requests a JSON answer matching the schema.
	ResponseSchema *ResponseSchema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that messages would consume
	// in the model's context window. The result need not be exact but should
	// not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the character-based approximation shared by providers
// without a native tokeniser: ~4 characters per token plus a per-message
// overhead for role and formatting.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
