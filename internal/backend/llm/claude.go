package llm

import (
	"context"
	"net/http"
	"strings"

	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/resilience"
)

const (
	claudeBaseURL    = "https://api.anthropic.com/v1"
	claudeAPIVersion = "2023-06-01"
)

// ClaudeClient talks to the Anthropic messages API.
type ClaudeClient struct {
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
	br      *resilience.Breaker
}

func newClaude(opts Options) (*ClaudeClient, error) {
	if opts.APIKey == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "claude api key required")
	}
	c := &ClaudeClient{
		baseURL: claudeBaseURL,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		hc:      &http.Client{Timeout: cloudTimeout},
		br:      resilience.New(resilience.SlowConfig()),
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	if c.model == "" {
		c.model = DefaultClaudeModel
	}
	return c, nil
}

// Name returns the provider tag.
func (c *ClaudeClient) Name() string { return ProviderClaude }

type claudeRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends the prompt as a single user message and returns the first
// text block of the reply.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := claudeRequest{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": claudeAPIVersion,
	}

	var out string
	err := resilience.Retry(ctx, resilience.LLMRetryConfig(), func() error {
		return c.br.Execute(func() error {
			var resp claudeResponse
			if err := postJSON(ctx, c.hc, c.baseURL+"/messages", ProviderClaude, headers, req, &resp); err != nil {
				return err
			}
			for _, block := range resp.Content {
				if block.Type == "text" {
					out = block.Text
					return nil
				}
			}
			return apperr.New(apperr.CodeBackendCall, "claude returned no text content")
		})
	})
	return out, err
}
