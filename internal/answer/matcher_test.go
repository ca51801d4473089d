package answer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/lingoloom/pkg/lesson"
	"github.com/MrWong99/lingoloom/pkg/provider/embeddings/mock"
)

// unitAt returns a 2-d unit vector whose cosine similarity with (1, 0) is c.
func unitAt(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func animals() *mock.Provider {
	return &mock.Provider{Vectors: map[string][]float32{
		"Dog":    {1, 0},
		"Canine": unitAt(0.9),
		"Feline": unitAt(0.2),
		"Bovine": unitAt(0.1),
	}}
}

func TestBestMatch_ExactSkipsEmbedding(t *testing.T) {
	p := animals()
	m := New(p)

	got := m.BestMatch(context.Background(), "Paris", []string{"Paris", "London", "Berlin"})
	if got != "Paris" {
		t.Errorf("got %q, want Paris", got)
	}
	if embed, batch := p.Counts(); embed != 0 || batch != 0 {
		t.Errorf("embedding path used: embed=%d batch=%d", embed, batch)
	}
}

func TestBestMatch_Semantic(t *testing.T) {
	m := New(animals())
	got := m.BestMatch(context.Background(), "Dog", []string{"Canine", "Feline", "Bovine"})
	if got != "Canine" {
		t.Errorf("got %q, want Canine", got)
	}
}

func TestBestMatch_NoOp(t *testing.T) {
	p := animals()
	m := New(p)
	ctx := context.Background()

	if got := m.BestMatch(ctx, "  ", []string{"Canine"}); got != "  " {
		t.Errorf("blank candidate: got %q", got)
	}
	if got := m.BestMatch(ctx, "Dog", nil); got != "Dog" {
		t.Errorf("no choices: got %q", got)
	}
	if embed, batch := p.Counts(); embed != 0 || batch != 0 {
		t.Error("no-op paths must not embed")
	}
}

func TestBestMatch_CandidateFailureKeepsCandidate(t *testing.T) {
	p := animals()
	p.Fail = map[string]bool{"Dog": true}
	m := New(p)

	if got := m.BestMatch(context.Background(), "Dog", []string{"Canine", "Feline"}); got != "Dog" {
		t.Errorf("got %q, want Dog", got)
	}
}

func TestBestMatch_FailingChoiceScoresMinimum(t *testing.T) {
	p := animals()
	p.Fail = map[string]bool{"Canine": true}
	m := New(p)

	got := m.BestMatch(context.Background(), "Dog", []string{"Canine", "Feline", "Bovine"})
	if got != "Feline" {
		t.Errorf("got %q, want Feline", got)
	}

	scored, err := m.Rank(context.Background(), "Dog", []string{"Canine", "Feline"})
	if err != nil {
		t.Fatal(err)
	}
	if scored[0].Score != -1 {
		t.Errorf("failing choice score: got %v, want -1", scored[0].Score)
	}
}

func TestBestMatch_TiesGoToFirst(t *testing.T) {
	p := &mock.Provider{Vectors: map[string][]float32{
		"q": {1, 0},
		"a": {0, 1},
		"b": {0, 1},
	}}
	m := New(p)
	if got := m.BestMatch(context.Background(), "q", []string{"a", "b"}); got != "a" {
		t.Errorf("got %q, want a", got)
	}
}

func TestBestMatch_Threshold(t *testing.T) {
	m := New(animals(), WithThreshold(0.95))
	if got := m.BestMatch(context.Background(), "Dog", []string{"Canine", "Feline"}); got != "Dog" {
		t.Errorf("below threshold: got %q, want Dog", got)
	}

	m = New(animals(), WithThreshold(0.5))
	if got := m.BestMatch(context.Background(), "Dog", []string{"Canine", "Feline"}); got != "Canine" {
		t.Errorf("above threshold: got %q, want Canine", got)
	}
}

func TestBestMatch_BatchFailureFallsBackToSingle(t *testing.T) {
	p := animals()
	p.BatchErr = errors.New("batch unsupported")
	m := New(p)

	if got := m.BestMatch(context.Background(), "Dog", []string{"Feline", "Canine"}); got != "Canine" {
		t.Errorf("got %q, want Canine", got)
	}
	if embed, _ := p.Counts(); embed != 3 {
		t.Errorf("single embeds: got %d, want 3", embed)
	}
}

func TestCosine(t *testing.T) {
	const eps = 1e-6
	vecs := [][]float32{{1, 2, 3}, {-4, 0.5, 9}, {0.1, -0.1, 0}, {3, 3, 3}}

	for _, a := range vecs {
		s, err := Cosine(a, a)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(s-1) > eps {
			t.Errorf("sim(%v, itself) = %v, want 1", a, s)
		}
		for _, b := range vecs {
			ab, _ := Cosine(a, b)
			ba, _ := Cosine(b, a)
			if ab != ba {
				t.Errorf("asymmetric: %v vs %v", ab, ba)
			}
			if ab < -1 || ab > 1 {
				t.Errorf("out of range: %v", ab)
			}
		}
	}

	if s, err := Cosine([]float32{1, 0}, []float32{-1, 0}); err != nil || s != -1 {
		t.Errorf("opposite: got %v, %v", s, err)
	}
	if s, err := Cosine([]float32{0, 0}, []float32{1, 2}); err != nil || s != 0 {
		t.Errorf("zero norm: got %v, %v", s, err)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestReconcilePractice(t *testing.T) {
	m := New(animals())
	p := &lesson.Practice{Questions: []lesson.Question{
		{Prompt: "Synonym of dog?", Choices: []string{"Canine", "Feline", "Bovine"}, Answer: "Dog"},
		{Prompt: "Exact", Choices: []string{"Canine", "Feline"}, Answer: "Feline"},
		{Prompt: "Open", Answer: "anything"},
	}}

	if n := ReconcilePractice(context.Background(), m, p); n != 1 {
		t.Errorf("changed: got %d, want 1", n)
	}
	if p.Questions[0].Answer != "Canine" {
		t.Errorf("answer: got %q", p.Questions[0].Answer)
	}
	if p.Questions[2].Answer != "anything" {
		t.Error("question without choices must be untouched")
	}
}

func TestBestMatch_NilEmbedderIsExactOnly(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	if got := m.BestMatch(ctx, "Paris", []string{"Paris", "Rome"}); got != "Paris" {
		t.Errorf("exact: got %q", got)
	}
	if got := m.BestMatch(ctx, "paris", []string{"Paris", "Rome"}); got != "paris" {
		t.Errorf("inexact candidate should pass through, got %q", got)
	}
	if _, err := m.Rank(ctx, "paris", []string{"Paris"}); err == nil {
		t.Error("Rank without embedder should fail")
	}
}
