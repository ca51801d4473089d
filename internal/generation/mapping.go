package generation

import (
	"encoding/json"

	"github.com/MrWong99/lingoloom/internal/prompt"
	"github.com/MrWong99/lingoloom/pkg/lesson"
)

// mapping binds a content kind to its output schema and result type.
type mapping struct {
	// schema selects the schema name. Some kinds vary their output shape
	// with the target language.
	schema func(lang prompt.Language) string

	// transform decodes schema-valid JSON into the kind's result type and
	// checks the constraints a schema cannot express.
	transform func(raw []byte, lang prompt.Language, params map[string]any) (any, error)

	// moderated lists the parameters that carry learner or author free text.
	moderated []string
}

var mappings = map[prompt.ContentKind]mapping{
	prompt.KindLessonMetadata: {
		schema: fixed("lesson_metadata"),
		transform: decode(func(m *lesson.Metadata, lang prompt.Language, _ map[string]any) {
			m.Language = lang.Name
		}),
		moderated: []string{"topic"},
	},
	prompt.KindVocabularyLesson: {
		schema: vocabularySchema,
		transform: decode(func(v *lesson.Vocabulary, lang prompt.Language, _ map[string]any) {
			v.Language = lang.Name
		}),
		moderated: []string{"topic"},
	},
	prompt.KindGrammarLesson: {
		schema: fixed("grammar"),
		transform: decode(func(g *lesson.Grammar, lang prompt.Language, _ map[string]any) {
			g.Language = lang.Name
		}),
		moderated: []string{"topic"},
	},
	prompt.KindConjugationLesson: {
		schema: fixed("conjugation"),
		transform: decode(func(c *lesson.Conjugation, lang prompt.Language, _ map[string]any) {
			c.Language = lang.Name
		}),
		moderated: []string{"verb"},
	},
	prompt.KindPracticeLesson: {
		schema: fixed("practice"),
		transform: decode(func(p *lesson.Practice, lang prompt.Language, _ map[string]any) {
			p.Language = lang.Name
		}),
		moderated: []string{"topic"},
	},
	prompt.KindReadingLesson: {
		schema: fixed("reading"),
		transform: decode(func(r *lesson.Reading, lang prompt.Language, _ map[string]any) {
			r.Language = lang.Name
		}),
		moderated: []string{"topic"},
	},
	prompt.KindStoryMetadata: {
		schema: fixed("story_metadata"),
		transform: decode(func(s *lesson.StoryMetadata, lang prompt.Language, _ map[string]any) {
			s.Language = lang.Name
		}),
		moderated: []string{"premise"},
	},
	prompt.KindStoryPages: {
		schema: fixed("story_pages"),
		transform: decode(func(s *lesson.StoryPages, lang prompt.Language, params map[string]any) {
			s.Language = lang.Name
			s.Title = stringParam(params, "title")
		}),
		moderated: []string{"title", "synopsis"},
	},
	prompt.KindTranslation: {
		schema: fixed("translation"),
		transform: decode(func(t *lesson.Translation, lang prompt.Language, params map[string]any) {
			t.Language = lang.Name
			t.Source = stringParam(params, "textToTranslate")
		}),
		moderated: []string{"textToTranslate"},
	},
	prompt.KindProofread: {
		schema: fixed("proofread"),
		transform: decode(func(p *lesson.Proofread, lang prompt.Language, params map[string]any) {
			p.Language = lang.Name
			p.Original = stringParam(params, "text")
		}),
		moderated: []string{"text"},
	},
}

func fixed(name string) func(prompt.Language) string {
	return func(prompt.Language) string { return name }
}

// vocabularySchema adds a gender field for gendered languages and a
// transliteration field for non-Latin scripts.
func vocabularySchema(lang prompt.Language) string {
	switch {
	case lang.Gendered && lang.Transliterate:
		return "vocabulary_gendered_transliterated"
	case lang.Gendered:
		return "vocabulary_gendered"
	case lang.Transliterate:
		return "vocabulary_transliterated"
	default:
		return "vocabulary_basic"
	}
}

// decode returns a transform that unmarshals into a new T, lets fill copy
// request-derived fields and validates the result's struct tags.
func decode[T any](fill func(*T, prompt.Language, map[string]any)) func([]byte, prompt.Language, map[string]any) (any, error) {
	return func(raw []byte, lang prompt.Language, params map[string]any) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, &ValidationError{Violations: []string{err.Error()}}
		}
		fill(v, lang, params)
		if vs := lesson.Violations(v); len(vs) > 0 {
			return nil, &ValidationError{Violations: vs}
		}
		return v, nil
	}
}

// texter is implemented by every lesson type.
type texter interface {
	Texts() []string
}

// outputTexts returns the learner-visible text of a mapped result.
func outputTexts(v any) []string {
	if t, ok := v.(texter); ok {
		return t.Texts()
	}
	return nil
}

// questionsOf returns the multiple-choice questions of a mapped result. The
// returned slice aliases the result.
func questionsOf(v any) []lesson.Question {
	switch x := v.(type) {
	case *lesson.Practice:
		return x.Questions
	case *lesson.Reading:
		return x.Questions
	}
	return nil
}
