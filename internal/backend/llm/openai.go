package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/resilience"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"

	// Gemini exposes an OpenAI-compatible chat endpoint, which keeps both
	// cloud providers on one wire format.
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// ChatClient talks to an OpenAI-compatible chat completions API.
type ChatClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
	br      *resilience.Breaker
}

func newOpenAI(opts Options) (*ChatClient, error) {
	if opts.APIKey == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "openai api key required")
	}
	return newChatClient(ProviderOpenAI, openAIBaseURL, DefaultOpenAIModel, opts), nil
}

func newGemini(opts Options) (*ChatClient, error) {
	if opts.APIKey == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "gemini api key required")
	}
	return newChatClient(ProviderGemini, geminiBaseURL, DefaultGeminiModel, opts), nil
}

func newChatClient(name, baseURL, defaultModel string, opts Options) *ChatClient {
	c := &ChatClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		hc:      &http.Client{Timeout: cloudTimeout},
		br:      resilience.New(resilience.SlowConfig()),
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	if c.model == "" {
		c.model = defaultModel
	}
	return c
}

// Name returns the provider tag.
func (c *ChatClient) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt as a single user message and returns the reply.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}

	var out string
	err := resilience.Retry(ctx, resilience.LLMRetryConfig(), func() error {
		return c.br.Execute(func() error {
			var resp chatResponse
			if err := postJSON(ctx, c.hc, c.baseURL+"/chat/completions", c.name, authBearer(c.apiKey), req, &resp); err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return apperr.Newf(apperr.CodeBackendCall, "%s returned no choices", c.name)
			}
			out = resp.Choices[0].Message.Content
			return nil
		})
	})
	return out, err
}

func authBearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

// postJSON sends a JSON request and decodes the JSON response, mapping HTTP
// failures onto app error codes so the retry layer sees retryability.
func postJSON(ctx context.Context, hc *http.Client, url, name string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeBackendCall, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeBackendCall, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return backend.WireError(err, name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := apperr.CodeBackendCall
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			code = apperr.CodeRateLimited
		case resp.StatusCode >= 500:
			code = apperr.CodeBackendUnavailable
		}
		return apperr.Newf(code, "%s: status %d: %s", name, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrapf(err, apperr.CodeBackendCall, "decode %s response", name)
	}
	return nil
}
