package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lingoloom/internal/config"
	"github.com/MrWong99/lingoloom/pkg/provider/embeddings"
	"github.com/MrWong99/lingoloom/pkg/provider/llm"
	"github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: info

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: llama3.1
  embeddings:
    name: ollama
    base_url: http://localhost:11434
    model: nomic-embed-text
  moderation:
    name: openai
    api_key: sk-test

generation:
  max_retries: 3
  retry_delay: 750ms
  call_timeout: 45s
  temperature: 0.4
  context_window: 128000
  max_output_tokens: 4096
  moderate_output: true
  circuit_breaker:
    max_failures: 4
    reset_timeout: 20s

moderation:
  requests: 60
  window: 1m
  call_timeout: 3s
  max_retries: 2
  backoff: 100ms
  max_backoff: 1s
  fuzzy_threshold: 0.92
  extra_terms:
    de: [blödmann]

matching:
  similarity_threshold: 0.35

embedding:
  timeout: 8s
  queue_size: 32
  cache:
    size: 2048
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Providers.LLM.Name != "openai" || cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("providers.llm: got %+v", cfg.Providers.LLM)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("providers.llm_fallbacks: got %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Generation.RetryDelay != 750*time.Millisecond {
		t.Errorf("generation.retry_delay: got %s, want 750ms", cfg.Generation.RetryDelay)
	}
	if cfg.Generation.CircuitBreaker.ResetTimeout != 20*time.Second {
		t.Errorf("generation.circuit_breaker.reset_timeout: got %s", cfg.Generation.CircuitBreaker.ResetTimeout)
	}
	if cfg.Moderation.Window != time.Minute || cfg.Moderation.Requests != 60 {
		t.Errorf("moderation rate limit: got %d per %s", cfg.Moderation.Requests, cfg.Moderation.Window)
	}
	if got := cfg.Moderation.ExtraTerms["de"]; len(got) != 1 || got[0] != "blödmann" {
		t.Errorf("moderation.extra_terms: got %v", cfg.Moderation.ExtraTerms)
	}
	if th := cfg.Matching.SimilarityThreshold; th == nil || *th != 0.35 {
		t.Errorf("matching.similarity_threshold: got %v", th)
	}
	if cfg.Embedding.Cache.Size != 2048 {
		t.Errorf("embedding.cache.size: got %d", cfg.Embedding.Cache.Size)
	}
}

func TestLoadFromReader_Minimal(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: ollama\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matching.SimilarityThreshold != nil {
		t.Error("threshold should be unset")
	}
}

func TestLoadFromReader_EmptyRequiresLLM(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "providers.llm.name") {
		t.Fatalf("expected missing llm error, got %v", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: openai\nvoices: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: openai\ngeneration:\n  retry_delay: soon\n"))
	if err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

// ── Conversions ───────────────────────────────────────────────────────────────

func TestConversions(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	eng := cfg.Generation.Engine("gpt-4o-mini")
	if eng.Model != "gpt-4o-mini" || eng.MaxRetries != 3 || eng.RetryDelay != 750*time.Millisecond || !eng.ModerateOutput {
		t.Errorf("engine config: %+v", eng)
	}

	gate := cfg.Moderation.Gate()
	if gate.Requests != 60 || gate.MaxRetries != 2 || gate.Backoff != 100*time.Millisecond {
		t.Errorf("gate config: %+v", gate)
	}

	cb := cfg.Generation.CircuitBreaker.Breaker("llm")
	if cb.Name != "llm" || cb.MaxFailures != 4 {
		t.Errorf("breaker config: %+v", cb)
	}

	if n := len(cfg.Moderation.LocalOptions()); n != 2 {
		t.Errorf("local options: got %d, want fuzzy threshold + one language", n)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateEmbeddings(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("embeddings: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateModeration(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("moderation: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	wantLLM := &stubLLM{}
	wantEmb := &stubEmbeddings{}
	wantMod := &stubModeration{}
	reg.RegisterLLM("stub", func(config.ProviderEntry) (llm.Provider, error) { return wantLLM, nil })
	reg.RegisterEmbeddings("stub", func(config.ProviderEntry) (embeddings.Provider, error) { return wantEmb, nil })
	reg.RegisterModeration("stub", func(config.ProviderEntry) (moderation.Provider, error) { return wantMod, nil })

	entry := config.ProviderEntry{Name: "stub"}
	if got, err := reg.CreateLLM(entry); err != nil || got != wantLLM {
		t.Errorf("llm: got %v, %v", got, err)
	}
	if got, err := reg.CreateEmbeddings(entry); err != nil || got != wantEmb {
		t.Errorf("embeddings: got %v, %v", got, err)
	}
	if got, err := reg.CreateModeration(entry); err != nil || got != wantMod {
		t.Errorf("moderation: got %v, %v", got, err)
	}

	names := reg.Names()
	for _, kind := range []string{"llm", "embeddings", "moderation"} {
		if len(names[kind]) != 1 || names[kind][0] != "stub" {
			t.Errorf("Names()[%q] = %v", kind, names[kind])
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (s *stubLLM) CountTokens(_ []llm.Message) (int, error) { return 0, nil }
func (s *stubLLM) Capabilities() llm.ModelCapabilities      { return llm.ModelCapabilities{} }

type stubEmbeddings struct{}

func (s *stubEmbeddings) Embed(_ context.Context, _ string) ([]float32, error) { return nil, nil }
func (s *stubEmbeddings) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, nil
}
func (s *stubEmbeddings) Dimensions() int { return 0 }
func (s *stubEmbeddings) ModelID() string { return "stub" }

type stubModeration struct{}

func (s *stubModeration) Classify(_ context.Context, _ string) (moderation.Result, error) {
	return moderation.Result{}, nil
}
func (s *stubModeration) Name() string { return "stub" }
