package main

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lingoloom/internal/app"
	"github.com/MrWong99/lingoloom/internal/config"
	"github.com/MrWong99/lingoloom/internal/resilience"
	"github.com/MrWong99/lingoloom/pkg/provider/embeddings"
	embollama "github.com/MrWong99/lingoloom/pkg/provider/embeddings/ollama"
	embopenai "github.com/MrWong99/lingoloom/pkg/provider/embeddings/openai"
	"github.com/MrWong99/lingoloom/pkg/provider/llm"
	"github.com/MrWong99/lingoloom/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/lingoloom/pkg/provider/llm/openai"
	"github.com/MrWong99/lingoloom/pkg/provider/moderation"
	modopenai "github.com/MrWong99/lingoloom/pkg/provider/moderation/openai"
)

// registerBuiltinProviders registers all built-in provider factories with reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the Chat Completions API directly so responses can be
	// constrained to the content schema.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, llmopenai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "sdk_retries"); ok {
			opts = append(opts, llmopenai.WithSDKRetries(n))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends share the same pattern: optional APIKey +
	// optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, embopenai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, embopenai.WithDimensions(n))
		}
		return embopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embollama.Option
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, embollama.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, embollama.WithDimensions(n))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, embollama.WithKeepAlive(ka))
		}
		return embollama.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Moderation ────────────────────────────────────────────────────────────

	reg.RegisterModeration("openai", func(entry config.ProviderEntry) (moderation.Provider, error) {
		var opts []modopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, modopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, modopenai.WithTimeout(d))
		}
		return modopenai.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates every configured provider. The primary LLM and
// its fallbacks always sit behind an [resilience.LLMFallback] so each backend
// gets a circuit breaker and readiness reflects their state.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	fb := resilience.NewLLMFallback(primary, backendLabel(cfg.Providers.LLM), resilience.FallbackConfig{
		CircuitBreaker: cfg.Generation.CircuitBreaker.Breaker("llm"),
	})
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %d (%q): %w", i, entry.Name, err)
		}
		fb.AddFallback(backendLabel(entry), p)
	}
	ps.LLM = fb
	slog.Info("llm backends", "order", fb.Backends())

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("embeddings provider %q: %w", entry.Name, err)
		}
		ps.Embeddings = p
	}

	// "local" selects the offline lexicon only, which the app always has.
	if entry := cfg.Providers.Moderation; entry.Name != "" && entry.Name != "local" {
		p, err := reg.CreateModeration(entry)
		if err != nil {
			return nil, fmt.Errorf("moderation provider %q: %w", entry.Name, err)
		}
		ps.Moderation = p
	}
	return ps, nil
}

// backendLabel names a backend in logs, metrics and breaker state. Two
// entries of the same provider differ by model.
func backendLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// ── Option helpers ────────────────────────────────────────────────────────────

func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt reads an integer option. YAML decodes numbers into map[string]any
// as int; JSON-shaped input may produce float64.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// optDuration reads a duration option given as a string ("30s") or as whole
// seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	if s := optString(opts, key); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
			return 0
		}
		return d
	}
	if n, ok := optInt(opts, key); ok {
		return time.Duration(n) * time.Second
	}
	return 0
}
