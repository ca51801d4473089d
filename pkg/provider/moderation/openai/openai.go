// Package openai provides a moderation provider backed by the OpenAI
// moderations endpoint (POST /v1/moderations with bearer authentication).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

// DefaultModel is the moderation model used when none is configured.
const DefaultModel = oai.ModerationModelOmniModerationLatest

var _ moderation.Provider = (*Provider)(nil)

// Provider implements moderation.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.ModerationModel
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a moderation Provider. An empty model selects DefaultModel.
// SDK-level retries are disabled; the moderation gate owns the retry policy.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai moderation: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Classify implements moderation.Provider.
func (p *Provider) Classify(ctx context.Context, text string) (moderation.Result, error) {
	resp, err := p.client.Moderations.New(ctx, oai.ModerationNewParams{
		Input: oai.ModerationNewParamsInputUnion{OfString: param.NewOpt(text)},
		Model: p.model,
	})
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return moderation.Result{}, &moderation.StatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return moderation.Result{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return moderation.Result{}, fmt.Errorf("openai moderation: empty results")
	}

	first := resp.Results[0]
	return moderation.Result{
		Flagged:    first.Flagged,
		Categories: flaggedCategories(first.Categories),
	}, nil
}

// Name implements moderation.Provider.
func (p *Provider) Name() string { return "openai" }

func flaggedCategories(c oai.ModerationCategories) []string {
	all := []struct {
		name string
		set  bool
	}{
		{"harassment", c.Harassment},
		{"harassment/threatening", c.HarassmentThreatening},
		{"hate", c.Hate},
		{"hate/threatening", c.HateThreatening},
		{"illicit", c.Illicit},
		{"illicit/violent", c.IllicitViolent},
		{"self-harm", c.SelfHarm},
		{"self-harm/instructions", c.SelfHarmInstructions},
		{"self-harm/intent", c.SelfHarmIntent},
		{"sexual", c.Sexual},
		{"sexual/minors", c.SexualMinors},
		{"violence", c.Violence},
		{"violence/graphic", c.ViolenceGraphic},
	}
	var out []string
	for _, cat := range all {
		if cat.set {
			out = append(out, cat.name)
		}
	}
	return out
}
