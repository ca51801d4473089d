package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest is returned by NewRequest when required fields are
	// missing. It is joined with one error per problem.
	ErrInvalidRequest = errors.New("generation: invalid request")

	// ErrUnsupported is returned when no template or mapping exists for the
	// requested content kind and language, or when a request asks for
	// moderation from an engine built without a moderator. It is a
	// configuration error and is never retried.
	ErrUnsupported = errors.New("generation: unsupported content kind or language")

	errNoModerator = fmt.Errorf("%w: moderation requested without a moderator", ErrUnsupported)

	// ErrModerationRejected is returned when the request's input, or the
	// generated output, is flagged by the moderation gate.
	ErrModerationRejected = errors.New("generation: content rejected by moderation")

	// ErrTransient wraps model call failures, including per-call timeouts.
	// It is retried by the engine and only surfaces inside ExhaustedError.
	ErrTransient = errors.New("generation: transient provider failure")

	// ErrPromptTooLarge is returned when the rendered prompt plus the output
	// budget does not fit the model's context window.
	ErrPromptTooLarge = errors.New("generation: prompt exceeds context window")

	// ErrExhausted matches every *ExhaustedError.
	ErrExhausted = errors.New("generation: retries exhausted")
)

// ValidationError reports model output that does not satisfy the schema or
// the typed constraints of its content kind. It also reports prompts that
// cannot be rendered because a placeholder has no value.
type ValidationError struct {
	Kind       string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("generation: %s: invalid output: %s", e.Kind, strings.Join(e.Violations, "; "))
}

// ExhaustedError is returned when every attempt failed. Last is the failure
// of the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("generation: failed after %d attempt(s): %v", e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrExhausted) hold.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// retryable reports whether a failed attempt may be repeated.
func retryable(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrTransient)
}

// Code maps err to a short stable identifier for machine-readable output.
// It returns "" for a nil error.
func Code(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrModerationRejected):
		return "moderation_rejected"
	case errors.Is(err, ErrPromptTooLarge):
		return "prompt_too_large"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.As(err, &ve):
		return "invalid_output"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
