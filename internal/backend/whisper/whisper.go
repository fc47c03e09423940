// Package whisper is a client for a faster-whisper HTTP sidecar. The sidecar
// runs on the same host and reads media by path, so requests carry paths
// rather than uploaded audio.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

const (
	DefaultURL = "http://localhost:8387"

	defaultTimeout = 60 * time.Minute
	loadTimeout    = 5 * time.Minute
)

// Config holds client settings.
type Config struct {
	URL     string
	Device  string // auto|cpu|cuda, passed through to the sidecar
	Timeout time.Duration
}

// Client talks to the faster-whisper sidecar.
type Client struct {
	cfg Config
	hc  *http.Client
}

// NewClient creates a sidecar client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
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

// Model is a speech model loaded in the sidecar. It satisfies both the
// cache handle and the speech engine surfaces.
type Model struct {
	c    *Client
	name string
}

// Load asks the sidecar to load a model into memory.
func (c *Client) Load(ctx context.Context, model string) (*Model, error) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	body := map[string]string{"model": model, "device": c.cfg.Device}
	if err := c.post(ctx, "/models/load", body, nil); err != nil {
		return nil, err
	}
	return &Model{c: c, name: model}, nil
}

// Key returns the model name identifying this handle in the cache.
func (m *Model) Key() string { return m.name }

// Release unloads the model, freeing accelerator memory for the next load.
func (m *Model) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	return m.c.post(ctx, "/models/unload", map[string]string{"model": m.name}, nil)
}

type transcribeRequest struct {
	Path         string   `json:"path"`
	Model        string   `json:"model"`
	VADFilter    bool     `json:"vad_filter"`
	BeamSize     int      `json:"beam_size"`
	MinSilenceMS int      `json:"min_silence_ms,omitempty"`
	ClipStart    *float64 `json:"clip_start,omitempty"`
	ClipEnd      *float64 `json:"clip_end,omitempty"`
}

type transcribeResponse struct {
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe runs the loaded model over a media file and returns ordered
// segments plus the total duration.
func (m *Model) Transcribe(ctx context.Context, path string, opts backend.SpeechOptions) (*backend.SpeechResult, error) {
	req := transcribeRequest{
		Path:         path,
		Model:        m.name,
		VADFilter:    opts.VADFilter,
		BeamSize:     opts.BeamSize,
		MinSilenceMS: opts.MinSilenceMS,
	}
	if opts.Clip != nil {
		req.ClipStart = &opts.Clip.Start
		req.ClipEnd = &opts.Clip.End
	}

	var resp transcribeResponse
	if err := m.c.post(ctx, "/transcribe", req, &resp); err != nil {
		return nil, err
	}

	result := &backend.SpeechResult{Duration: resp.Duration}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, backend.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeBackendCall, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(data))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeBackendCall, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return backend.WireError(err, "whisper sidecar")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Newf(apperr.CodeBackendCall, "whisper sidecar %s: status %d: %s",
			path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrapf(err, apperr.CodeBackendCall, "decode whisper response for %s", path)
	}
	return nil
}

// Provider resolves speech engines through the lifecycle cache, so many
// sequential per-file calls reuse one loaded model and a model change swaps
// the single slot.
type Provider struct {
	Client *Client
	Cache  *backend.Cache
}

// Engine returns a loaded speech engine for the model key.
func (p *Provider) Engine(ctx context.Context, model string) (backend.SpeechEngine, error) {
	h, err := p.Cache.GetOrLoad(ctx, backend.KindSpeech, model, func(ctx context.Context, key string) (backend.Handle, error) {
		return p.Client.Load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return h.(*Model), nil
}
