// Package moderation defines the Provider interface for external content
// moderation classifiers.
//
// A provider answers one question: does this text violate the backend's usage
// policy? Rate limiting, retries and the local fallback classifier live in
// internal/moderation; providers perform exactly one request per call.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Result is the classification of a single text.
type Result struct {
	Flagged bool

	// Categories lists the policy categories the backend flagged, if it
	// reports them.
	Categories []string
}

// Provider is the abstraction over a moderation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Classify sends text to the backend. Only the first result of a
	// multi-result response is consulted.
	Classify(ctx context.Context, text string) (Result, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// StatusError reports a non-2xx answer from a moderation backend.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("moderation: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temporary reports whether the status is worth retrying: 408, 429 and 5xx.
func (e *StatusError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// StatusCode extracts the HTTP status from err, or 0 if err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
