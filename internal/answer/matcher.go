// Package answer reconciles free-form model answers with a fixed set of
// allowed choices.
//
// Matching is exact first. Only when the candidate is not literally one of
// the choices are embeddings computed and the choice with the highest cosine
// similarity returned. Embedding failures degrade the result, never the call:
// BestMatch always returns a string.
package answer

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/pkg/lesson"
)

// Embedder is the subset of an embedding backend the matcher needs.
// embedding.Service and every embeddings.Provider satisfy it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ScoredChoice pairs a choice with its similarity to the candidate.
type ScoredChoice struct {
	Choice string
	Score  float64
}

var errNoEmbedder = errors.New("answer: no embedder configured")

// minScore is assigned to choices whose embedding could not be computed.
const minScore = -1.0

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreshold sets the minimum similarity a semantic match needs. Below
// it the candidate is returned unchanged. Values <= -1 disable the check.
func WithThreshold(t float64) Option {
	return func(m *Matcher) { m.threshold = t }
}

// WithMetrics records matching decisions on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Matcher) { m.metrics = met }
}

// Matcher picks the choice closest to a candidate answer.
// It is safe for concurrent use.
type Matcher struct {
	emb       Embedder
	threshold float64
	metrics   *observe.Metrics
}

// New returns a Matcher that embeds through emb. With a nil emb the Matcher
// only recognises exact matches.
func New(emb Embedder, opts ...Option) *Matcher {
	m := &Matcher{emb: emb, threshold: minScore}
	for _, o := range opts {
		o(m)
	}
	return m
}

// BestMatch returns the choice that best matches candidate.
//
// A blank candidate or an empty choice list returns candidate unchanged, as
// does a candidate that is exactly one of the choices. If the candidate
// cannot be embedded it is returned unchanged. Ties go to the earliest
// choice.
func (m *Matcher) BestMatch(ctx context.Context, candidate string, choices []string) string {
	if strings.TrimSpace(candidate) == "" || len(choices) == 0 {
		return candidate
	}
	if slices.Contains(choices, candidate) {
		m.record(ctx, "exact")
		return candidate
	}
	if m.emb == nil {
		m.record(ctx, "passthrough")
		return candidate
	}

	scored, err := m.Rank(ctx, candidate, choices)
	if err != nil {
		observe.Logger(ctx).Warn("answer: candidate embedding failed, keeping candidate", "err", err)
		m.record(ctx, "passthrough")
		return candidate
	}

	best := scored[0]
	for _, sc := range scored[1:] {
		if sc.Score > best.Score {
			best = sc
		}
	}
	if m.threshold > minScore && best.Score < m.threshold {
		m.record(ctx, "passthrough")
		return candidate
	}
	m.record(ctx, "semantic")
	return best.Choice
}

// Rank scores every choice against candidate, in choice order. The error is
// non-nil only when the candidate itself cannot be embedded; choices that
// fail individually score -1.
func (m *Matcher) Rank(ctx context.Context, candidate string, choices []string) ([]ScoredChoice, error) {
	if m.emb == nil {
		return nil, errNoEmbedder
	}
	cv, err := m.emb.Embed(ctx, candidate)
	if err != nil {
		return nil, err
	}

	vecs := m.embedChoices(ctx, choices)
	out := make([]ScoredChoice, len(choices))
	for i, c := range choices {
		out[i] = ScoredChoice{Choice: c, Score: minScore}
		if vecs[i] == nil {
			continue
		}
		s, err := Cosine(cv, vecs[i])
		if err != nil {
			observe.Logger(ctx).Debug("answer: scoring choice failed", "choice", c, "err", err)
			continue
		}
		out[i].Score = s
	}
	return out, nil
}

// embedChoices embeds choices as one batch, falling back to one call per
// choice when the batch fails. Failed entries are nil.
func (m *Matcher) embedChoices(ctx context.Context, choices []string) [][]float32 {
	vecs, err := m.emb.EmbedBatch(ctx, choices)
	if err == nil && len(vecs) == len(choices) {
		return vecs
	}

	vecs = make([][]float32, len(choices))
	for i, c := range choices {
		if ctx.Err() != nil {
			break
		}
		v, err := m.emb.Embed(ctx, c)
		if err != nil {
			observe.Logger(ctx).Debug("answer: choice embedding failed", "choice", c, "err", err)
			continue
		}
		vecs[i] = v
	}
	return vecs
}

func (m *Matcher) record(ctx context.Context, method string) {
	if m.metrics != nil {
		m.metrics.RecordMatchDecision(ctx, method)
	}
}

// ReconcileQuestions replaces each question's answer by the closest of its
// choices and returns how many answers changed. Questions without choices
// are left alone.
func ReconcileQuestions(ctx context.Context, m *Matcher, qs []lesson.Question) int {
	changed := 0
	for i := range qs {
		q := &qs[i]
		if len(q.Choices) == 0 {
			continue
		}
		if got := m.BestMatch(ctx, q.Answer, q.Choices); got != q.Answer {
			q.Answer = got
			changed++
		}
	}
	return changed
}

// ReconcilePractice runs ReconcileQuestions over a practice lesson.
func ReconcilePractice(ctx context.Context, m *Matcher, p *lesson.Practice) int {
	return ReconcileQuestions(ctx, m, p.Questions)
}
