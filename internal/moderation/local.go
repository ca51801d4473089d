package moderation

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	provider "github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

//go:embed lexicon/*.txt
var lexiconFS embed.FS

const (
	// DefaultLanguage is used when detection is unreliable or no lexicon
	// exists for the detected language.
	DefaultLanguage = "en"

	defaultFuzzyThreshold = 0.94
	minFuzzyRunes         = 5
)

// leet maps common character substitutions back to letters.
var leet = strings.NewReplacer("0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "@", "a", "$", "s")

type lexicon struct {
	words   map[string]struct{}
	fuzzy   []string // single words long enough for near-miss matching
	phrases []string // space-joined token sequences
}

// LocalOption configures a Local classifier.
type LocalOption func(*Local)

// WithFuzzyThreshold sets the minimum Jaro-Winkler similarity for a word to
// count as a disguised lexicon entry. Only words containing character
// substitutions ("sh1t", "@ss") and of the entry's length are compared.
// Values >= 1 disable near-miss matching.
func WithFuzzyThreshold(t float64) LocalOption {
	return func(l *Local) { l.fuzzyThreshold = t }
}

// WithTerms adds terms to the lexicon of an ISO 639-1 language code.
func WithTerms(lang string, terms ...string) LocalOption {
	return func(l *Local) {
		lex := l.lexicon(strings.ToLower(lang), true)
		for _, t := range terms {
			lex.add(t)
		}
	}
}

// Local is the offline classifier used when the moderation API is
// unavailable. It detects the language of the text and tests it against that
// language's profanity lexicon. It is a conservative approximation of the
// API's verdict, not a replacement for it.
//
// Local is read-only after construction and safe for concurrent use.
type Local struct {
	lexicons       map[string]*lexicon
	fuzzyThreshold float64
}

var _ provider.Provider = (*Local)(nil)

// NewLocal loads the embedded lexicons.
func NewLocal(opts ...LocalOption) (*Local, error) {
	l := &Local{
		lexicons:       make(map[string]*lexicon),
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	files, err := lexiconFS.ReadDir("lexicon")
	if err != nil {
		return nil, fmt.Errorf("moderation: list lexicons: %w", err)
	}
	for _, f := range files {
		lang := strings.TrimSuffix(f.Name(), ".txt")
		fh, err := lexiconFS.Open(path.Join("lexicon", f.Name()))
		if err != nil {
			return nil, fmt.Errorf("moderation: open lexicon %s: %w", lang, err)
		}
		lex := l.lexicon(lang, true)
		sc := bufio.NewScanner(fh)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lex.add(line)
		}
		fh.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("moderation: read lexicon %s: %w", lang, err)
		}
	}
	if _, ok := l.lexicons[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("moderation: no %q lexicon embedded", DefaultLanguage)
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Local) lexicon(lang string, create bool) *lexicon {
	lex, ok := l.lexicons[lang]
	if !ok && create {
		lex = &lexicon{words: make(map[string]struct{})}
		l.lexicons[lang] = lex
	}
	return lex
}

func (lex *lexicon) add(term string) {
	toks := tokens(term)
	switch len(toks) {
	case 0:
		return
	case 1:
		w := toks[0]
		if _, dup := lex.words[w]; dup {
			return
		}
		lex.words[w] = struct{}{}
		if utf8.RuneCountInString(w) >= minFuzzyRunes {
			lex.fuzzy = append(lex.fuzzy, w)
		}
	default:
		lex.phrases = append(lex.phrases, strings.Join(toks, " "))
	}
}

// tokens normalises s (NFKC, Unicode case folding) and splits it into words.
func tokens(s string) []string {
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '@' && r != '$'
	})
}

// DetectLanguage returns the ISO 639-1 code of text's language, or
// DefaultLanguage when detection is not reliable.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return DefaultLanguage
	}
	if code := info.Lang.Iso6391(); code != "" {
		return code
	}
	return DefaultLanguage
}

// Languages returns the language codes that have a lexicon.
func (l *Local) Languages() []string {
	out := make([]string, 0, len(l.lexicons))
	for k := range l.lexicons {
		out = append(out, k)
	}
	return out
}

// Match reports the first lexicon entry found in text using the lexicon of
// lang, or of DefaultLanguage if lang has none.
func (l *Local) Match(text, lang string) (string, bool) {
	lex := l.lexicon(lang, false)
	if lex == nil {
		lex = l.lexicons[DefaultLanguage]
	}

	raw := tokens(text)
	toks := make([]string, len(raw))
	for i, t := range raw {
		toks[i] = leet.Replace(t)
	}
	for _, t := range toks {
		if _, ok := lex.words[t]; ok {
			return t, true
		}
	}
	if len(lex.phrases) > 0 {
		joined := " " + strings.Join(toks, " ") + " "
		for _, p := range lex.phrases {
			if strings.Contains(joined, " "+p+" ") {
				return p, true
			}
		}
	}
	if l.fuzzyThreshold < 1 {
		// Near misses only count for tokens that were visibly disguised and
		// keep the entry's length. Ordinary words such as "prickly" or
		// "flicken" sit close to an entry without being one.
		for i, t := range toks {
			if t == raw[i] {
				continue
			}
			n := utf8.RuneCountInString(t)
			if n < minFuzzyRunes {
				continue
			}
			for _, w := range lex.fuzzy {
				if utf8.RuneCountInString(w) != n {
					continue
				}
				if matchr.JaroWinkler(t, w, false) >= l.fuzzyThreshold {
					return w, true
				}
			}
		}
	}
	return "", false
}

// Inspect classifies text and returns the verdict with the language used.
func (l *Local) Inspect(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	lang := DetectLanguage(text)
	v := Verdict{Source: SourceFallback, Language: lang}
	if _, hit := l.Match(text, lang); hit {
		v.Flagged = true
		v.Categories = []string{"profanity"}
	}
	return v, nil
}

// Classify implements the moderation provider interface so Local can be
// configured as the only backend.
func (l *Local) Classify(ctx context.Context, text string) (provider.Result, error) {
	v, err := l.Inspect(ctx, text)
	if err != nil {
		return provider.Result{}, err
	}
	return provider.Result{Flagged: v.Flagged, Categories: v.Categories}, nil
}

// Name returns "local".
func (l *Local) Name() string { return "local" }
