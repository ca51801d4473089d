// Package prompt maps a (content kind, language) pair to the prompt template
// and JSON Schema used to generate it.
//
// Templates and schemas are embedded in the binary and parsed once by
// NewRegistry; the Registry is read-only afterwards and safe for concurrent
// use. Templates are organised by language-instruction group so languages
// written in the same script share their script instructions. Schemas are
// organised by schema name; a content kind may have several schema variants
// (vocabulary items differ for gendered or non-Latin languages).
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
)

//go:embed templates/*.tmpl templates/groups/*.tmpl
var templateFS embed.FS

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	// ErrUnknownKind is returned for content kinds that are not declared.
	ErrUnknownKind = errors.New("prompt: unknown content kind")

	// ErrUnsupportedLanguage is returned for languages without instructions.
	ErrUnsupportedLanguage = errors.New("prompt: unsupported language")

	// ErrUnsupportedPair is returned when a kind is not offered for a
	// language's group.
	ErrUnsupportedPair = errors.New("prompt: content kind not offered for language")

	// ErrUnknownSchema is returned by Schema for names without a document.
	ErrUnknownSchema = errors.New("prompt: unknown schema")
)

// Schema is a resolved JSON Schema document.
type Schema struct {
	Name string

	// Doc is the decoded document handed to model providers as the
	// structured-output constraint. It must not be modified.
	Doc map[string]any

	resolved *jsonschema.Resolved
}

// Validate checks a decoded JSON value (as produced by json.Unmarshal into
// an any) against the schema.
func (s *Schema) Validate(instance any) error {
	if err := s.resolved.Validate(instance); err != nil {
		return fmt.Errorf("schema %s: %w", s.Name, err)
	}
	return nil
}

// Rendered is a prompt ready to be sent to a model.
type Rendered struct {
	System string
	User   string
}

// Template renders the prompt for one content kind and instruction group.
type Template struct {
	Kind  ContentKind
	Group Group
	tmpl  *template.Template
}

type renderData struct {
	Kind   ContentKind
	Lang   Language
	Params map[string]any
}

// Render executes the template against params. Placeholders referring to
// parameters that are absent make Render fail; optional parameters are
// looked up with index inside the templates.
func (t *Template) Render(lang Language, params map[string]any) (Rendered, error) {
	data := renderData{Kind: t.Kind, Lang: lang, Params: params}
	if data.Params == nil {
		data.Params = map[string]any{}
	}

	var sys, user bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&sys, "system", data); err != nil {
		return Rendered{}, fmt.Errorf("prompt: render %s system prompt: %w", t.Kind, err)
	}
	if err := t.tmpl.ExecuteTemplate(&user, "user", data); err != nil {
		return Rendered{}, fmt.Errorf("prompt: render %s prompt: %w", t.Kind, err)
	}
	return Rendered{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(user.String()),
	}, nil
}

type templateKey struct {
	kind  ContentKind
	group Group
}

// Registry resolves templates and schemas.
type Registry struct {
	templates map[templateKey]*Template
	schemas   map[string]*Schema
}

// NewRegistry parses every embedded template and schema. An error means the
// binary was built with broken resources.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		templates: make(map[templateKey]*Template),
		schemas:   make(map[string]*Schema),
	}
	if err := r.loadSchemas(); err != nil {
		return nil, err
	}
	if err := r.loadTemplates(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadSchemas() error {
	files, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return fmt.Errorf("prompt: list schemas: %w", err)
	}
	for _, f := range files {
		name := strings.TrimSuffix(f.Name(), ".json")
		raw, err := schemaFS.ReadFile(path.Join("schemas", f.Name()))
		if err != nil {
			return fmt.Errorf("prompt: read schema %s: %w", name, err)
		}

		var js jsonschema.Schema
		if err := json.Unmarshal(raw, &js); err != nil {
			return fmt.Errorf("prompt: parse schema %s: %w", name, err)
		}
		resolved, err := js.Resolve(nil)
		if err != nil {
			return fmt.Errorf("prompt: resolve schema %s: %w", name, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("prompt: decode schema %s: %w", name, err)
		}
		r.schemas[name] = &Schema{Name: name, Doc: doc, resolved: resolved}
	}
	return nil
}

var funcs = template.FuncMap{
	// default returns v formatted, or def when v is absent or empty.
	"default": func(def string, v any) string {
		if v == nil {
			return def
		}
		s := fmt.Sprint(v)
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	},
}

func (r *Registry) loadTemplates() error {
	for _, g := range Groups() {
		base, err := template.New(string(g)).
			Option("missingkey=error").
			Funcs(funcs).
			ParseFS(templateFS, "templates/system.tmpl", "templates/groups/"+string(g)+".tmpl")
		if err != nil {
			return fmt.Errorf("prompt: parse %s base templates: %w", g, err)
		}

		for _, kind := range Kinds() {
			if !supported(kind, g) {
				continue
			}
			t, err := base.Clone()
			if err != nil {
				return fmt.Errorf("prompt: clone %s base templates: %w", g, err)
			}
			if _, err := t.ParseFS(templateFS, "templates/"+string(kind)+".tmpl"); err != nil {
				return fmt.Errorf("prompt: parse %s template: %w", kind, err)
			}
			if t.Lookup("user") == nil {
				return fmt.Errorf("prompt: %s template does not define \"user\"", kind)
			}
			r.templates[templateKey{kind, g}] = &Template{Kind: kind, Group: g, tmpl: t}
		}
	}
	return nil
}

// Template returns the template for kind in language together with the
// resolved Language. The error wraps ErrUnknownKind, ErrUnsupportedLanguage
// or ErrUnsupportedPair.
func (r *Registry) Template(kind ContentKind, language string) (*Template, Language, error) {
	if !kind.IsValid() {
		return nil, Language{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	lang, ok := LookupLanguage(language)
	if !ok {
		return nil, Language{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	t, ok := r.templates[templateKey{kind, lang.Group}]
	if !ok {
		return nil, Language{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, kind, lang.Name)
	}
	return t, lang, nil
}

// Schema returns the schema registered under name.
func (r *Registry) Schema(name string) (*Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return s, nil
}

// Supports reports whether kind can be generated for language.
func (r *Registry) Supports(kind ContentKind, language string) bool {
	_, _, err := r.Template(kind, language)
	return err == nil
}

// Languages returns every supported language name in sorted order.
func (r *Registry) Languages() []string {
	return languageNames()
}
