package prompt

import (
	"sort"
	"strings"
)

// Group is a language-instruction group. Languages sharing a script share the
// same script instructions.
type Group string

const (
	GroupLatin    Group = "latin"
	GroupCyrillic Group = "cyrillic"
	GroupJapanese Group = "japanese"
	GroupChinese  Group = "chinese"
	GroupKorean   Group = "korean"
)

// Groups returns every instruction group.
func Groups() []Group {
	return []Group{GroupLatin, GroupCyrillic, GroupJapanese, GroupChinese, GroupKorean}
}

// Language describes a supported target language.
type Language struct {
	// Name is the lower-case key used in requests, e.g. "german".
	Name  string
	Group Group

	// Gendered is set for languages whose nouns carry grammatical gender.
	Gendered bool

	// Transliterate is set for languages written in a non-Latin script.
	Transliterate bool
}

// Display returns the language name as used in prompts.
func (l Language) Display() string {
	if l.Name == "" {
		return ""
	}
	return strings.ToUpper(l.Name[:1]) + l.Name[1:]
}

var languages = map[string]Language{
	"english":    {Name: "english", Group: GroupLatin},
	"german":     {Name: "german", Group: GroupLatin, Gendered: true},
	"french":     {Name: "french", Group: GroupLatin, Gendered: true},
	"spanish":    {Name: "spanish", Group: GroupLatin, Gendered: true},
	"italian":    {Name: "italian", Group: GroupLatin, Gendered: true},
	"portuguese": {Name: "portuguese", Group: GroupLatin, Gendered: true},
	"dutch":      {Name: "dutch", Group: GroupLatin, Gendered: true},
	"polish":     {Name: "polish", Group: GroupLatin, Gendered: true},
	"swedish":    {Name: "swedish", Group: GroupLatin},
	"turkish":    {Name: "turkish", Group: GroupLatin},
	"russian":    {Name: "russian", Group: GroupCyrillic, Gendered: true, Transliterate: true},
	"ukrainian":  {Name: "ukrainian", Group: GroupCyrillic, Gendered: true, Transliterate: true},
	"bulgarian":  {Name: "bulgarian", Group: GroupCyrillic, Gendered: true, Transliterate: true},
	"japanese":   {Name: "japanese", Group: GroupJapanese, Transliterate: true},
	"chinese":    {Name: "chinese", Group: GroupChinese, Transliterate: true},
	"korean":     {Name: "korean", Group: GroupKorean, Transliterate: true},
}

// LookupLanguage resolves a language name case-insensitively.
func LookupLanguage(name string) (Language, bool) {
	l, ok := languages[strings.ToLower(strings.TrimSpace(name))]
	return l, ok
}

// unsupported lists (kind, group) pairs without a template. Chinese verbs do
// not inflect, so there is nothing to conjugate.
var unsupported = map[ContentKind][]Group{
	KindConjugationLesson: {GroupChinese},
}

func supported(kind ContentKind, g Group) bool {
	for _, u := range unsupported[kind] {
		if u == g {
			return false
		}
	}
	return true
}

func languageNames() []string {
	names := make([]string, 0, len(languages))
	for n := range languages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
