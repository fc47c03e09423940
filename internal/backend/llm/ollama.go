package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"

	// Local models on modest hardware can be slow to first token.
	ollamaTimeout = 10 * time.Minute
)

// OllamaConfig holds local server settings.
type OllamaConfig struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Ollama talks to a local Ollama server's chat API.
type Ollama struct {
	cfg OllamaConfig
	hc  *http.Client
}

// NewOllama creates a local completion client.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.URL == "" {
		cfg.URL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = ollamaTimeout
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &Ollama{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

// Name returns the provider tag.
func (o *Ollama) Name() string { return ProviderLocal }

// IsAvailable checks if the server is reachable.
func (o *Ollama) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.URL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Complete sends the prompt as a single user message and returns the reply.
func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	return o.chat(ctx, ollamaMessage{Role: "user", Content: prompt})
}

func (o *Ollama) chat(ctx context.Context, msg ollamaMessage) (string, error) {
	req := ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: []ollamaMessage{msg},
		Stream:   false,
		Options:  map[string]any{"temperature": defaultTemperature},
	}
	var resp ollamaChatResponse
	if err := postJSON(ctx, o.hc, o.cfg.URL+"/api/chat", "ollama", nil, req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", apperr.New(apperr.CodeBackendCall, "ollama returned empty reply")
	}
	return resp.Message.Content, nil
}

var _ backend.Completer = (*Ollama)(nil)
