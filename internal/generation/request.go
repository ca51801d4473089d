package generation

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/MrWong99/lingoloom/internal/prompt"
)

// Request describes one generation task. Build it with NewRequest; a built
// Request is never modified and may be shared between goroutines.
type Request struct {
	kind           prompt.ContentKind
	language       string
	params         map[string]any
	moderateInput  bool
	moderateOutput bool
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// WithModeration requires the request's free-text parameters to pass the
// moderation gate before the model is called.
func WithModeration() RequestOption {
	return func(r *Request) { r.moderateInput = true }
}

// WithOutputModeration checks the generated text as well, regardless of the
// engine's default.
func WithOutputModeration() RequestOption {
	return func(r *Request) { r.moderateOutput = true }
}

// NewRequest validates kind and language and returns an immutable Request.
// All problems are reported together, joined with ErrInvalidRequest.
//
// The language is lower-cased and always present as params["language"].
// params is copied.
func NewRequest(kind prompt.ContentKind, language string, params map[string]any, opts ...RequestOption) (Request, error) {
	var errs []error
	if kind == "" {
		errs = append(errs, errors.New("content kind is required"))
	} else if !kind.IsValid() {
		errs = append(errs, fmt.Errorf("unknown content kind %q", kind))
	}
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		errs = append(errs, errors.New("language is required"))
	}
	if len(errs) > 0 {
		return Request{}, errors.Join(append([]error{ErrInvalidRequest}, errs...)...)
	}

	r := Request{
		kind:     kind,
		language: language,
		params:   make(map[string]any, len(params)+1),
	}
	maps.Copy(r.params, params)
	r.params["language"] = language
	for _, o := range opts {
		o(&r)
	}
	return r, nil
}

func (r Request) Kind() prompt.ContentKind { return r.kind }

func (r Request) Language() string { return r.language }

// Params returns a copy of the request parameters.
func (r Request) Params() map[string]any { return maps.Clone(r.params) }

// Param returns a single parameter.
func (r Request) Param(key string) (any, bool) {
	v, ok := r.params[key]
	return v, ok
}

// RequireModeration reports whether input moderation was requested.
func (r Request) RequireModeration() bool { return r.moderateInput }

// ModerateOutput reports whether output moderation was requested.
func (r Request) ModerateOutput() bool { return r.moderateOutput }

// stringParam returns params[key] formatted as text, or "" when absent.
func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
