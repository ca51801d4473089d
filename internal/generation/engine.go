// Package generation turns a [Request] into a typed learning artefact.
//
// The [Engine] resolves the prompt template and output schema for the
// request's content kind and language, optionally screens the input with the
// moderation gate and asks the model for schema-constrained JSON. The answer
// is validated against the JSON Schema, decoded into the kind's type from
// package lesson and checked against that type's constraints. Invalid output
// and failed model calls are retried sequentially after a fixed delay, up to
// MaxRetries times; no partial result is ever returned.
//
// Errors are typed: [ErrUnsupported] for kinds or languages without a
// template, [ErrModerationRejected] for flagged content, [*ValidationError]
// for output that never became valid and [*ExhaustedError] (matching
// [ErrExhausted]) once the retry budget is spent.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lingoloom/internal/moderation"
	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/internal/prompt"
	"github.com/MrWong99/lingoloom/pkg/lesson"
	"github.com/MrWong99/lingoloom/pkg/provider/llm"
)

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	// Model labels metrics and log lines. Default: "llm".
	Model string

	// MaxRetries is the number of attempts after the first one. Default: 3.
	// Negative disables retrying.
	MaxRetries int

	// RetryDelay is the fixed pause between attempts. Default: 500ms.
	RetryDelay time.Duration

	// CallTimeout bounds a single model call. Default: 60s.
	CallTimeout time.Duration

	Temperature float64

	// MaxOutputTokens caps each completion. Zero uses the model's limit.
	MaxOutputTokens int

	// ContextWindow overrides the model's reported context window for the
	// prompt size check. Zero uses the model's value; if that is zero too
	// the check is skipped.
	ContextWindow int

	// ModerateOutput checks the generated text of every request.
	ModerateOutput bool
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "llm"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// Moderator screens free text. *moderation.Gate implements it.
type Moderator interface {
	CheckAll(ctx context.Context, texts ...string) (moderation.Verdict, error)
}

// AnswerMatcher maps a model-produced answer onto one of the offered
// choices. *answer.Matcher implements it.
type AnswerMatcher interface {
	BestMatch(ctx context.Context, candidate string, choices []string) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithModerator sets the gate used for input and output moderation.
func WithModerator(m Moderator) Option {
	return func(e *Engine) { e.moderator = m }
}

// WithAnswerMatcher reconciles multiple-choice answers that do not literally
// match a choice before the result is validated.
func WithAnswerMatcher(m AnswerMatcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithMetrics records attempts and latencies on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Result is a successfully generated artefact.
type Result struct {
	Kind     prompt.ContentKind
	Language string

	// Value is a pointer to the lesson type of Kind, e.g. *lesson.Vocabulary.
	Value any

	// Attempts is the number of model calls made.
	Attempts int

	// Usage is summed over all attempts.
	Usage llm.Usage
}

// Engine is safe for concurrent use. Requests share no mutable state.
type Engine struct {
	cfg       Config
	llm       llm.Provider
	registry  *prompt.Registry
	moderator Moderator
	matcher   AnswerMatcher
	metrics   *observe.Metrics
}

// New returns an Engine that generates with p using the templates in reg.
func New(p llm.Provider, reg *prompt.Registry, cfg Config, opts ...Option) (*Engine, error) {
	if p == nil || reg == nil {
		return nil, errors.New("generation: provider and registry are required")
	}
	e := &Engine{cfg: cfg.withDefaults(), llm: p, registry: reg}
	for _, o := range opts {
		o(e)
	}
	if e.cfg.ModerateOutput && e.moderator == nil {
		return nil, errors.New("generation: output moderation enabled without a moderator")
	}
	return e, nil
}

// Supports reports whether kind can be generated for language.
func (e *Engine) Supports(kind prompt.ContentKind, language string) bool {
	_, ok := mappings[kind]
	return ok && e.registry.Supports(kind, language)
}

// plan is everything resolved before the first model call.
type plan struct {
	kind    prompt.ContentKind
	lang    prompt.Language
	params  map[string]any
	mapping mapping
	schema  *prompt.Schema
	req     llm.CompletionRequest
}

// Generate runs req to completion. See the package documentation for the
// error contract.
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	if !req.kind.IsValid() {
		return nil, fmt.Errorf("%w: request was not built with NewRequest", ErrInvalidRequest)
	}

	ctx, span := observe.StartSpan(ctx, "generation.generate")
	span.SetAttributes(
		attribute.String("kind", string(req.kind)),
		attribute.String("language", req.language),
	)

	kindAttr := metric.WithAttributes(attribute.String("kind", string(req.kind)))
	if e.metrics != nil {
		e.metrics.ActiveGenerations.Add(ctx, 1, kindAttr)
		start := time.Now()
		defer func() {
			e.metrics.ActiveGenerations.Add(ctx, -1, kindAttr)
			e.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(), kindAttr)
		}()
	}

	res, err := e.generate(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.Int("attempts", res.Attempts))
	}
	observe.EndSpan(span, err)
	return res, err
}

func (e *Engine) generate(ctx context.Context, req Request) (*Result, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	log := observe.Logger(ctx).With("kind", string(p.kind), "language", p.lang.Name, "model", e.cfg.Model)

	var (
		usage    llm.Usage
		attempts int
		last     error
	)
	for attempts <= e.cfg.MaxRetries {
		if attempts > 0 {
			if err := sleep(ctx, e.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
		attempts++

		value, u, err := e.attempt(ctx, p)
		usage = usage.Add(u)
		if err == nil {
			if err := e.moderateOutput(ctx, req, value); err != nil {
				return nil, err
			}
			log.Debug("generation: done", "attempts", attempts)
			return &Result{
				Kind:     p.kind,
				Language: p.lang.Name,
				Value:    value,
				Attempts: attempts,
				Usage:    usage,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !retryable(err) {
			return nil, err
		}
		last = err
		log.Warn("generation: attempt failed", "attempt", attempts, "err", err)
	}
	return nil, &ExhaustedError{Attempts: attempts, Last: last}
}

// prepare resolves the template and schema, screens the input and renders
// the prompt. Nothing here is retried.
func (e *Engine) prepare(ctx context.Context, req Request) (*plan, error) {
	m, ok := mappings[req.kind]
	if !ok {
		return nil, fmt.Errorf("%w: no mapping for %s", ErrUnsupported, req.kind)
	}
	tmpl, lang, err := e.registry.Template(req.kind, req.language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	schema, err := e.registry.Schema(m.schema(lang))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	if (req.moderateInput || req.moderateOutput) && e.moderator == nil {
		return nil, errNoModerator
	}
	if req.moderateInput {
		texts := make([]string, 0, len(m.moderated))
		for _, k := range m.moderated {
			texts = append(texts, stringParam(req.params, k))
		}
		if err := e.moderate(ctx, texts); err != nil {
			return nil, err
		}
	}

	rendered, err := tmpl.Render(lang, req.params)
	if err != nil {
		return nil, &ValidationError{Kind: string(req.kind), Violations: []string{err.Error()}}
	}

	maxOut := e.cfg.MaxOutputTokens
	caps := e.llm.Capabilities()
	if maxOut == 0 {
		maxOut = caps.MaxOutputTokens
	}
	cr := llm.CompletionRequest{
		SystemPrompt: rendered.System,
		Messages:     []llm.Message{{Role: "user", Content: rendered.User}},
		Temperature:  e.cfg.Temperature,
		MaxTokens:    maxOut,
		ResponseSchema: &llm.ResponseSchema{
			Name:   schema.Name,
			Schema: schema.Doc,
			Strict: true,
		},
	}
	if err := e.checkBudget(cr, caps, maxOut); err != nil {
		return nil, err
	}

	return &plan{
		kind:    req.kind,
		lang:    lang,
		params:  req.params,
		mapping: m,
		schema:  schema,
		req:     cr,
	}, nil
}

func (e *Engine) checkBudget(cr llm.CompletionRequest, caps llm.ModelCapabilities, maxOut int) error {
	window := e.cfg.ContextWindow
	if window == 0 {
		window = caps.ContextWindow
	}
	if window <= 0 {
		return nil
	}
	msgs := append([]llm.Message{{Role: "system", Content: cr.SystemPrompt}}, cr.Messages...)
	n, err := e.llm.CountTokens(msgs)
	if err != nil {
		// Counting is an estimate; the model rejects what truly does not fit.
		return nil
	}
	if n+maxOut > window {
		return fmt.Errorf("%w: %d prompt + %d output tokens > %d", ErrPromptTooLarge, n, maxOut, window)
	}
	return nil
}

// attempt makes one model call and turns its answer into a validated value.
func (e *Engine) attempt(ctx context.Context, p *plan) (any, llm.Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.llm.Complete(callCtx, p.req)
	if e.metrics != nil {
		e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("kind", string(p.kind))))
	}
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		e.recordAttempt(ctx, p.kind, "error")
		if ctx.Err() != nil {
			return nil, llm.Usage{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, llm.Usage{}, fmt.Errorf("%w: model call timed out after %s: %w", ErrTransient, e.cfg.CallTimeout, err)
		}
		return nil, llm.Usage{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	value, err := e.decode(ctx, p, []byte(resp.Content))
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Kind = string(p.kind)
		}
		e.recordAttempt(ctx, p.kind, "invalid")
		return nil, resp.Usage, err
	}
	e.recordAttempt(ctx, p.kind, "ok")
	return value, resp.Usage, nil
}

func (e *Engine) decode(ctx context.Context, p *plan, content []byte) (any, error) {
	raw := stripFences(content)

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Violations: []string{"output is not JSON: " + err.Error()}}
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, &ValidationError{Violations: []string{err.Error()}}
	}
	value, err := p.mapping.transform(raw, p.lang, p.params)
	if err != nil {
		return nil, err
	}

	if qs := questionsOf(value); len(qs) > 0 {
		if e.matcher != nil {
			for i := range qs {
				qs[i].Answer = e.matcher.BestMatch(ctx, qs[i].Answer, qs[i].Choices)
			}
		}
		if vs := lesson.AnswersInChoices(qs); len(vs) > 0 {
			return nil, &ValidationError{Violations: vs}
		}
	}
	return value, nil
}

func (e *Engine) recordAttempt(ctx context.Context, kind prompt.ContentKind, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordGenerationAttempt(ctx, string(kind), outcome)
	}
}

func (e *Engine) moderateOutput(ctx context.Context, req Request, value any) error {
	if !e.cfg.ModerateOutput && !req.moderateOutput {
		return nil
	}
	return e.moderate(ctx, outputTexts(value))
}

func (e *Engine) moderate(ctx context.Context, texts []string) error {
	if e.moderator == nil {
		return errNoModerator
	}
	v, err := e.moderator.CheckAll(ctx, texts...)
	if err != nil {
		return err
	}
	if v.Flagged {
		return fmt.Errorf("%w (source %s, categories %v)", ErrModerationRejected, v.Source, v.Categories)
	}
	return nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	} else {
		b = b[3:]
	}
	b = bytes.TrimSpace(b)
	b = bytes.TrimSuffix(b, []byte("```"))
	return bytes.TrimSpace(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate runs req on e and returns its value as T. T must match the
// content kind, e.g. *lesson.Translation for translations.
func Generate[T any](ctx context.Context, e *Engine, req Request) (T, error) {
	var zero T
	res, err := e.Generate(ctx, req)
	if err != nil {
		return zero, err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, fmt.Errorf("generation: %s produces %T, not %T", req.kind, res.Value, zero)
	}
	return v, nil
}
