// Package ollama provides an embeddings provider backed by a local Ollama
// server's /api/embed endpoint (nomic-embed-text, mxbai-embed-large,
// all-minilm, ...).
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lingoloom/pkg/provider/embeddings"
)

// DefaultBaseURL is the base URL of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using an Ollama server.
//
// The vector length comes from WithDimensions, then the table of known models,
// then a single probe request issued on the first Dimensions call.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client

	dimMu      sync.Mutex
	dimensions int
	probed     bool
}

type config struct {
	timeout    time.Duration
	dimensions int
	keepAlive  string
	client     *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the vector length and skips the probe request.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request, e.g. "10m" or "-1" for forever.
func WithKeepAlive(d string) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client = hc
	}
}

// New constructs a new Ollama Provider. An empty baseURL selects
// DefaultBaseURL; model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		keepAlive:  cfg.keepAlive,
		httpClient: hc,
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. An empty input issues no request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For unknown models the first
// call probes the server; a failed probe reports 0 and is retried next time.
func (p *Provider) Dimensions() int {
	p.dimMu.Lock()
	defer p.dimMu.Unlock()
	if p.dimensions != 0 || p.probed {
		return p.dimensions
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vecs, err := p.post(ctx, []string{"probe"})
	if err != nil {
		return 0
	}
	p.probed = true
	p.dimensions = len(vecs[0])
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return out.Embeddings, nil
}

// knownDimensions returns the vector length of well-known Ollama embedding
// models, or 0.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"), strings.Contains(lower, "bge-m3"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
