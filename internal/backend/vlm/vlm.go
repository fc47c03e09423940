// Package vlm is a vision-language client backed by an Ollama server. The
// timestamp pipeline sends it cropped frames and a reading prompt; the model
// answers with the text it sees.
package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

const (
	DefaultURL = "http://localhost:11434"

	// DefaultModel reads burned-in overlay text well at 7B scale.
	DefaultModel = "qwen2.5vl:7b"

	defaultTimeout = 10 * time.Minute
	maxReplyTokens = 128
)

// Config holds client settings.
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Client reads text from images through a vision-capable Ollama model.
type Client struct {
	cfg Config
	hc  *http.Client
}

// NewClient creates a vision client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

// IsAvailable checks if the server is reachable.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// ReadImage sends one image with a reading prompt and returns the model's
// reply, trimmed.
func (c *Client) ReadImage(ctx context.Context, image []byte, prompt string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		}},
		Stream:  false,
		Options: map[string]any{"num_predict": maxReplyTokens},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeBackendCall, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeBackendCall, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", backend.WireError(err, "vision model")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return "", apperr.Newf(apperr.CodeBackendCall, "vision model: status %d: %s",
			httpResp.StatusCode, bytes.TrimSpace(msg))
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", apperr.Wrap(err, apperr.CodeBackendCall, "decode vision response")
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

var _ backend.VisionReader = (*Client)(nil)
