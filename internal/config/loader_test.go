package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/lingoloom/internal/config"
)

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "server.log_level",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "server.tls",
		},
		{
			name: "fallback without name",
			yaml: "providers:\n  llm_fallbacks:\n    - model: llama3.1\n",
			want: "providers.llm_fallbacks[0].name",
		},
		{
			name: "retries below -1",
			yaml: "generation:\n  max_retries: -2\n",
			want: "generation.max_retries",
		},
		{
			name: "temperature too high",
			yaml: "generation:\n  temperature: 2.5\n",
			want: "generation.temperature",
		},
		{
			name: "output budget exceeds window",
			yaml: "generation:\n  context_window: 4096\n  max_output_tokens: 4096\n",
			want: "generation.max_output_tokens",
		},
		{
			name: "negative breaker",
			yaml: "generation:\n  circuit_breaker:\n    max_failures: -1\n",
			want: "generation.circuit_breaker.max_failures",
		},
		{
			name: "max backoff below backoff",
			yaml: "moderation:\n  backoff: 2s\n  max_backoff: 1s\n",
			want: "moderation.max_backoff",
		},
		{
			name: "fuzzy threshold above one",
			yaml: "moderation:\n  fuzzy_threshold: 1.5\n",
			want: "moderation.fuzzy_threshold",
		},
		{
			name: "extra terms keyed by language name",
			yaml: "moderation:\n  extra_terms:\n    german: [x]\n",
			want: "moderation.extra_terms",
		},
		{
			name: "similarity threshold out of range",
			yaml: "matching:\n  similarity_threshold: 1.2\n",
			want: "matching.similarity_threshold",
		},
		{
			name: "negative queue",
			yaml: "embedding:\n  queue_size: -4\n",
			want: "embedding.queue_size",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := "providers:\n  llm:\n    name: openai\n" + tc.yaml
			if strings.HasPrefix(tc.yaml, "providers:") {
				doc = strings.Replace(tc.yaml, "providers:\n", "providers:\n  llm:\n    name: openai\n", 1)
			}
			_, err := config.LoadFromReader(strings.NewReader(doc))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
generation:
  temperature: -1
matching:
  similarity_threshold: 3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"providers.llm.name", "server.log_level", "generation.temperature", "matching.similarity_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_NegativeOneDisablesRetries(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
generation:
  max_retries: -1
moderation:
  max_retries: -1
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Generation.Engine("m").MaxRetries; got != -1 {
		t.Errorf("engine MaxRetries = %d, want -1", got)
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: my-private-backend
  moderation:
    name: also-private
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lingoloom.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Embeddings.Model != "nomic-embed-text" {
		t.Errorf("embeddings model: got %q", cfg.Providers.Embeddings.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "embeddings", "moderation"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
