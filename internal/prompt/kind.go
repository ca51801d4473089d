package prompt

// ContentKind is the category of a generation task. Each kind is bound to its
// own prompt template and output schema.
type ContentKind string

const (
	KindLessonMetadata    ContentKind = "lesson-metadata"
	KindVocabularyLesson  ContentKind = "vocabulary-lesson"
	KindGrammarLesson     ContentKind = "grammar-lesson"
	KindConjugationLesson ContentKind = "conjugation-lesson"
	KindPracticeLesson    ContentKind = "practice-lesson"
	KindReadingLesson     ContentKind = "reading-lesson"
	KindStoryMetadata     ContentKind = "story-metadata"
	KindStoryPages        ContentKind = "story-pages"
	KindTranslation       ContentKind = "translation"
	KindProofread         ContentKind = "proofread"
)

// Kinds returns every content kind in declaration order.
func Kinds() []ContentKind {
	return []ContentKind{
		KindLessonMetadata,
		KindVocabularyLesson,
		KindGrammarLesson,
		KindConjugationLesson,
		KindPracticeLesson,
		KindReadingLesson,
		KindStoryMetadata,
		KindStoryPages,
		KindTranslation,
		KindProofread,
	}
}

// IsValid reports whether k is one of the declared kinds.
func (k ContentKind) IsValid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

func (k ContentKind) String() string { return string(k) }
