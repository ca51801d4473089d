package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	Content string
}

// ModelCapabilities describes the limits of an LLM model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStructuredOutput indicates the backend enforces ResponseSchema
	// natively rather than through prompt instructions.
	SupportsStructuredOutput bool
}
