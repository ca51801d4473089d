package lesson

import (
	"strings"
	"testing"
)

func TestViolations_Valid(t *testing.T) {
	v := &Translation{Language: "german", Source: "Hello", Translation: "Hallo"}
	if errs := Violations(v); errs != nil {
		t.Errorf("expected no violations, got %v", errs)
	}
}

func TestViolations_Reported(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"missing translation", &Translation{Language: "german", Source: "Hello"}, "Translation.Translation: failed required"},
		{"bad level", &Metadata{Language: "french", Title: "t", Description: "d", Level: "Z9", Topics: []string{"food"}, EstimatedMinutes: 10}, "Metadata.Level: failed oneof"},
		{"no items", &Vocabulary{Language: "german", Topic: "food"}, "Vocabulary.Items: failed min=1"},
		{"bad gender", &Vocabulary{Language: "german", Topic: "food", Items: []VocabularyItem{{
			Word: "Hund", Translation: "dog", PartOfSpeech: "noun", Gender: "robot", Example: "e", ExampleTranslation: "e",
		}}}, "Vocabulary.Items[0].Gender"},
		{"score range", &Proofread{Language: "spanish", Original: "o", Corrected: "c", Score: 101}, "Proofread.Score: failed lte=100"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := Violations(tc.v)
			if len(errs) == 0 {
				t.Fatal("expected violations")
			}
			if !strings.Contains(strings.Join(errs, "\n"), tc.want) {
				t.Errorf("violations %v do not mention %q", errs, tc.want)
			}
		})
	}
}

func TestAnswersInChoices(t *testing.T) {
	qs := []Question{
		{Prompt: "p1", Choices: []string{"a", "b"}, Answer: "a"},
		{Prompt: "p2", Choices: []string{"a", "b"}, Answer: "c"},
	}
	got := AnswersInChoices(qs)
	if len(got) != 1 || !strings.Contains(got[0], "questions[1]") {
		t.Errorf("got %v", got)
	}
}

func TestTexts(t *testing.T) {
	p := &Practice{Topic: "colours", Questions: []Question{{Prompt: "red?", Choices: []string{"rot", "blau"}, Answer: "rot"}}}
	got := strings.Join(p.Texts(), "|")
	for _, want := range []string{"colours", "red?", "rot", "blau"} {
		if !strings.Contains(got, want) {
			t.Errorf("Texts() missing %q: %s", want, got)
		}
	}
}
