// Package lesson holds the typed values the generation engine produces for
// each content kind.
//
// Every type carries json tags matching the model-facing JSON Schema and
// validate tags checked by Violations after mapping. Texts returns the
// learner-visible free text of a value, used for output moderation.
package lesson

// Level is a CEFR proficiency level.
type Level string

const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
	C2 Level = "C2"
)

// Metadata describes a lesson before its body is generated.
type Metadata struct {
	Language         string   `json:"language" validate:"required"`
	Title            string   `json:"title" validate:"required"`
	Description      string   `json:"description" validate:"required"`
	Level            Level    `json:"level" validate:"oneof=A1 A2 B1 B2 C1 C2"`
	Topics           []string `json:"topics" validate:"min=1,dive,required"`
	EstimatedMinutes int      `json:"estimatedMinutes" validate:"gte=1,lte=240"`
}

func (m *Metadata) Texts() []string {
	return append([]string{m.Title, m.Description}, m.Topics...)
}

// VocabularyItem is one word of a vocabulary lesson. Gender is set only for
// languages with grammatical gender; Transliteration only for non-Latin scripts.
type VocabularyItem struct {
	Word               string `json:"word" validate:"required"`
	Translation        string `json:"translation" validate:"required"`
	PartOfSpeech       string `json:"partOfSpeech" validate:"required"`
	Gender             string `json:"gender,omitempty" validate:"omitempty,oneof=masculine feminine neuter common"`
	Transliteration    string `json:"transliteration,omitempty"`
	Example            string `json:"example" validate:"required"`
	ExampleTranslation string `json:"exampleTranslation" validate:"required"`
}

// Vocabulary is a vocabulary lesson.
type Vocabulary struct {
	Language string           `json:"language" validate:"required"`
	Topic    string           `json:"topic" validate:"required"`
	Items    []VocabularyItem `json:"items" validate:"min=1,dive"`
}

func (v *Vocabulary) Texts() []string {
	out := []string{v.Topic}
	for _, it := range v.Items {
		out = append(out, it.Word, it.Translation, it.Example, it.ExampleTranslation)
	}
	return out
}

// GrammarRule is a single rule with an illustrating example.
type GrammarRule struct {
	Rule               string `json:"rule" validate:"required"`
	Example            string `json:"example" validate:"required"`
	ExampleTranslation string `json:"exampleTranslation" validate:"required"`
}

// Grammar is a grammar lesson.
type Grammar struct {
	Language       string        `json:"language" validate:"required"`
	Topic          string        `json:"topic" validate:"required"`
	Explanation    string        `json:"explanation" validate:"required"`
	Rules          []GrammarRule `json:"rules" validate:"min=1,dive"`
	CommonMistakes []string      `json:"commonMistakes"`
}

func (g *Grammar) Texts() []string {
	out := []string{g.Topic, g.Explanation}
	for _, r := range g.Rules {
		out = append(out, r.Rule, r.Example, r.ExampleTranslation)
	}
	return append(out, g.CommonMistakes...)
}

// ConjugatedForm is the form of a verb for one grammatical person.
type ConjugatedForm struct {
	Person string `json:"person" validate:"required"`
	Form   string `json:"form" validate:"required"`
}

// Tense groups the forms of one tense or mood.
type Tense struct {
	Name  string           `json:"name" validate:"required"`
	Forms []ConjugatedForm `json:"forms" validate:"min=1,dive"`
}

// Conjugation is a conjugation table lesson for a single verb.
type Conjugation struct {
	Language    string  `json:"language" validate:"required"`
	Verb        string  `json:"verb" validate:"required"`
	Translation string  `json:"translation" validate:"required"`
	Tenses      []Tense `json:"tenses" validate:"min=1,dive"`
}

func (c *Conjugation) Texts() []string {
	out := []string{c.Verb, c.Translation}
	for _, t := range c.Tenses {
		for _, f := range t.Forms {
			out = append(out, f.Form)
		}
	}
	return out
}

// Question is a multiple-choice question. Answer must be one of Choices.
type Question struct {
	Prompt      string   `json:"prompt" validate:"required"`
	Choices     []string `json:"choices" validate:"min=2,dive,required"`
	Answer      string   `json:"answer" validate:"required"`
	Explanation string   `json:"explanation"`
}

// Practice is a practice lesson made of multiple-choice questions.
type Practice struct {
	Language  string     `json:"language" validate:"required"`
	Topic     string     `json:"topic" validate:"required"`
	Questions []Question `json:"questions" validate:"min=1,dive"`
}

func (p *Practice) Texts() []string {
	out := []string{p.Topic}
	for _, q := range p.Questions {
		out = append(out, q.Prompt, q.Explanation)
		out = append(out, q.Choices...)
	}
	return out
}

// GlossaryEntry explains a term used in a reading text.
type GlossaryEntry struct {
	Term    string `json:"term" validate:"required"`
	Meaning string `json:"meaning" validate:"required"`
}

// Reading is a reading-comprehension lesson.
type Reading struct {
	Language  string          `json:"language" validate:"required"`
	Title     string          `json:"title" validate:"required"`
	Text      string          `json:"text" validate:"required"`
	Glossary  []GlossaryEntry `json:"glossary" validate:"dive"`
	Questions []Question      `json:"questions" validate:"min=1,dive"`
}

func (r *Reading) Texts() []string {
	out := []string{r.Title, r.Text}
	for _, g := range r.Glossary {
		out = append(out, g.Term, g.Meaning)
	}
	for _, q := range r.Questions {
		out = append(out, q.Prompt)
		out = append(out, q.Choices...)
	}
	return out
}

// StoryMetadata outlines a short story before its pages are written.
type StoryMetadata struct {
	Language   string   `json:"language" validate:"required"`
	Title      string   `json:"title" validate:"required"`
	Synopsis   string   `json:"synopsis" validate:"required"`
	Level      Level    `json:"level" validate:"oneof=A1 A2 B1 B2 C1 C2"`
	Characters []string `json:"characters" validate:"min=1,dive,required"`
	PageCount  int      `json:"pageCount" validate:"gte=1,lte=50"`
}

func (s *StoryMetadata) Texts() []string {
	return append([]string{s.Title, s.Synopsis}, s.Characters...)
}

// StoryPage is one page of a story.
type StoryPage struct {
	Number      int    `json:"number" validate:"gte=1"`
	Text        string `json:"text" validate:"required"`
	Translation string `json:"translation" validate:"required"`
}

// StoryPages is the body of a story, pages in reading order.
type StoryPages struct {
	Language string      `json:"language" validate:"required"`
	Title    string      `json:"title" validate:"required"`
	Pages    []StoryPage `json:"pages" validate:"min=1,dive"`
}

func (s *StoryPages) Texts() []string {
	out := []string{s.Title}
	for _, p := range s.Pages {
		out = append(out, p.Text, p.Translation)
	}
	return out
}

// Translation is a translated text with optional usage notes.
type Translation struct {
	Language    string   `json:"language" validate:"required"`
	Source      string   `json:"source" validate:"required"`
	Translation string   `json:"translation" validate:"required"`
	Notes       []string `json:"notes"`
}

func (t *Translation) Texts() []string {
	return append([]string{t.Translation}, t.Notes...)
}

// Issue is a single proofreading finding.
type Issue struct {
	Original    string `json:"original" validate:"required"`
	Suggestion  string `json:"suggestion" validate:"required"`
	Explanation string `json:"explanation" validate:"required"`
	Severity    string `json:"severity" validate:"oneof=minor major critical"`
}

// Proofread is feedback on a learner-written text.
type Proofread struct {
	Language  string  `json:"language" validate:"required"`
	Original  string  `json:"original" validate:"required"`
	Corrected string  `json:"corrected" validate:"required"`
	Issues    []Issue `json:"issues" validate:"dive"`
	Score     int     `json:"score" validate:"gte=0,lte=100"`
}

func (p *Proofread) Texts() []string {
	out := []string{p.Corrected}
	for _, is := range p.Issues {
		out = append(out, is.Suggestion, is.Explanation)
	}
	return out
}
