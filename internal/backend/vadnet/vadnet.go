// Package vadnet is a client for a Silero VAD HTTP sidecar. The sidecar
// takes raw mono 16 kHz PCM and returns detected speech spans.
package vadnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

const (
	DefaultURL = "http://localhost:8388"

	// ModelKey identifies the single Silero model in the lifecycle cache.
	ModelKey = "silero-vad"

	// DefaultThreshold is the sensitivity used when a scan does not set one.
	DefaultThreshold = 0.5

	defaultTimeout = 10 * time.Minute
)

// Config holds client settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client talks to the VAD sidecar.
type Client struct {
	cfg Config
	hc  *http.Client
}

// NewClient creates a sidecar client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

// IsAvailable checks if the sidecar is reachable.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
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

// Session is the loaded VAD model in the sidecar.
type Session struct {
	c *Client
}

// Load asks the sidecar to load the Silero model.
func (c *Client) Load(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/models/load", nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "create VAD load request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, backend.WireError(err, "vad sidecar")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeBackendCall, "vad sidecar load: status %d", resp.StatusCode)
	}
	return &Session{c: c}, nil
}

// Key identifies this handle in the lifecycle cache.
func (s *Session) Key() string { return ModelKey }

// Release unloads the model.
func (s *Session) Release(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.c.cfg.URL+"/models/unload", nil)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeBackendCall, "create VAD unload request")
	}
	resp, err := s.c.hc.Do(req)
	if err != nil {
		return backend.WireError(err, "vad sidecar")
	}
	resp.Body.Close()
	return nil
}

type detectResponse struct {
	Spans []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"spans"`
}

// Detect posts a PCM buffer and returns the detected speech spans in seconds.
func (s *Session) Detect(ctx context.Context, pcm []byte, sampleRate int, threshold float64) ([]backend.Span, error) {
	url := fmt.Sprintf("%s/detect?sample_rate=%d&threshold=%s",
		s.c.cfg.URL, sampleRate, strconv.FormatFloat(threshold, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(pcm))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "create VAD detect request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.c.hc.Do(req)
	if err != nil {
		return nil, backend.WireError(err, "vad sidecar")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Newf(apperr.CodeBackendCall, "vad sidecar detect: status %d: %s",
			resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "decode VAD response")
	}

	spans := make([]backend.Span, 0, len(parsed.Spans))
	for _, sp := range parsed.Spans {
		spans = append(spans, backend.Span{Start: sp.Start, End: sp.End})
	}
	return spans, nil
}

// Provider resolves the VAD engine through the lifecycle cache.
type Provider struct {
	Client *Client
	Cache  *backend.Cache
}

// Engine returns the loaded VAD engine.
func (p *Provider) Engine(ctx context.Context) (backend.VADEngine, error) {
	h, err := p.Cache.GetOrLoad(ctx, backend.KindVAD, ModelKey, func(ctx context.Context, _ string) (backend.Handle, error) {
		return p.Client.Load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return h.(*Session), nil
}
