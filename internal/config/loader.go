package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"moderation": {"openai", "local"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("moderation", cfg.Providers.Moderation.Name)

	// Generation
	g := cfg.Generation
	if g.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("generation.max_retries %d is invalid; use -1 to disable retries", g.MaxRetries))
	}
	if g.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("generation.retry_delay %s must not be negative", g.RetryDelay))
	}
	if g.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("generation.call_timeout %s must not be negative", g.CallTimeout))
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", g.Temperature))
	}
	if g.ContextWindow < 0 || g.MaxOutputTokens < 0 {
		errs = append(errs, errors.New("generation.context_window and generation.max_output_tokens must not be negative"))
	}
	if g.ContextWindow > 0 && g.MaxOutputTokens >= g.ContextWindow {
		errs = append(errs, fmt.Errorf("generation.max_output_tokens %d leaves no room for the prompt in a %d token context window", g.MaxOutputTokens, g.ContextWindow))
	}
	errs = append(errs, validateBreaker("generation.circuit_breaker", g.CircuitBreaker)...)

	// Moderation
	m := cfg.Moderation
	if m.Requests < 0 {
		errs = append(errs, fmt.Errorf("moderation.requests %d must not be negative", m.Requests))
	}
	if m.Window < 0 || m.CallTimeout < 0 || m.Backoff < 0 || m.MaxBackoff < 0 {
		errs = append(errs, errors.New("moderation durations must not be negative"))
	}
	if m.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("moderation.max_retries %d is invalid; use -1 to disable retries", m.MaxRetries))
	}
	if m.Backoff > 0 && m.MaxBackoff > 0 && m.MaxBackoff < m.Backoff {
		errs = append(errs, fmt.Errorf("moderation.max_backoff %s is shorter than moderation.backoff %s", m.MaxBackoff, m.Backoff))
	}
	if m.FuzzyThreshold < 0 || m.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("moderation.fuzzy_threshold %.2f is out of range [0, 1]", m.FuzzyThreshold))
	}
	for lang := range m.ExtraTerms {
		if len(strings.TrimSpace(lang)) != 2 {
			errs = append(errs, fmt.Errorf("moderation.extra_terms key %q is not an ISO 639-1 code", lang))
		}
	}
	errs = append(errs, validateBreaker("moderation.circuit_breaker", m.CircuitBreaker)...)
	if m.Requests > 0 && m.CallTimeout > 0 && m.Window > 0 && m.Window/time.Duration(m.Requests) > m.CallTimeout {
		slog.Warn("moderation rate limit admits fewer requests than the call timeout can wait for; over-limit checks will use the lexicon",
			"requests", m.Requests, "window", m.Window, "call_timeout", m.CallTimeout)
	}
	if cfg.Providers.Moderation.Name == "" && cfg.Generation.ModerateOutput {
		slog.Warn("generation.moderate_output is enabled without providers.moderation; output is checked by the offline lexicon only")
	}

	// Matching
	if t := cfg.Matching.SimilarityThreshold; t != nil && (*t < -1 || *t > 1) {
		errs = append(errs, fmt.Errorf("matching.similarity_threshold %.2f is out of range [-1, 1]", *t))
	}
	if cfg.Matching.SimilarityThreshold != nil && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("matching.similarity_threshold is set but providers.embeddings is not configured; answers are matched exactly only")
	}

	// Embedding
	e := cfg.Embedding
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("embedding.timeout %s must not be negative", e.Timeout))
	}
	if e.QueueSize < 0 || e.Cache.Size < 0 {
		errs = append(errs, errors.New("embedding.queue_size and embedding.cache.size must not be negative"))
	}
	if e.Cache.PostgresDSN != "" && e.Cache.Size > 0 {
		slog.Warn("embedding.cache.postgres_dsn and embedding.cache.size are both set; using postgres")
	}

	return errors.Join(errs...)
}

func validateBreaker(prefix string, b BreakerConfig) []error {
	var errs []error
	if b.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.max_failures %d must not be negative", prefix, b.MaxFailures))
	}
	if b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.reset_timeout %s must not be negative", prefix, b.ResetTimeout))
	}
	if b.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("%s.half_open_max %d must not be negative", prefix, b.HalfOpenMax))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
