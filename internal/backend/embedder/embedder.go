// Package embedder is a client for a sentence-embedding HTTP sidecar that
// ranks text chunks against a query by cosine similarity.
package embedder

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
	DefaultURL = "http://localhost:8389"

	// DefaultModel mirrors the engine's default sentence-transformers model.
	DefaultModel = "all-MiniLM-L6-v2"

	// SimilarityFloor drops matches below this cosine similarity.
	SimilarityFloor = 0.3

	// MaxMatches caps how many ranked chunks a single query returns.
	MaxMatches = 100

	defaultTimeout = 10 * time.Minute
)

// Config holds client settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client talks to the embedding sidecar.
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

// Model is an embedding model loaded in the sidecar.
type Model struct {
	c    *Client
	name string
}

// Load asks the sidecar to load an embedding model.
func (c *Client) Load(ctx context.Context, model string) (*Model, error) {
	body, _ := json.Marshal(map[string]string{"model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/models/load", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "create embed load request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, backend.WireError(err, "embedding sidecar")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeBackendCall, "embedding sidecar load: status %d", resp.StatusCode)
	}
	return &Model{c: c, name: model}, nil
}

// Key identifies this handle in the lifecycle cache.
func (m *Model) Key() string { return m.name }

// Release unloads the model.
func (m *Model) Release(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.c.cfg.URL+"/models/unload", nil)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeBackendCall, "create embed unload request")
	}
	resp, err := m.c.hc.Do(req)
	if err != nil {
		return backend.WireError(err, "embedding sidecar")
	}
	resp.Body.Close()
	return nil
}

type rankRequest struct {
	Model  string   `json:"model"`
	Query  string   `json:"query"`
	Chunks []string `json:"chunks"`
	Floor  float64  `json:"floor"`
	Limit  int      `json:"limit"`
}

type rankResponse struct {
	Matches []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"matches"`
}

// Rank returns chunk indices ranked by similarity to the query, best first,
// dropping anything below the similarity floor.
func (m *Model) Rank(ctx context.Context, query string, chunks []string) ([]backend.Match, error) {
	body, err := json.Marshal(rankRequest{
		Model:  m.name,
		Query:  query,
		Chunks: chunks,
		Floor:  SimilarityFloor,
		Limit:  MaxMatches,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "encode rank request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.c.cfg.URL+"/rank", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "create rank request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.c.hc.Do(req)
	if err != nil {
		return nil, backend.WireError(err, "embedding sidecar")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Newf(apperr.CodeBackendCall, "embedding sidecar rank: status %d: %s",
			resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBackendCall, "decode rank response")
	}

	matches := make([]backend.Match, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		matches = append(matches, backend.Match{Index: m.Index, Score: m.Score})
	}
	return matches, nil
}

// Provider resolves embedding models through the lifecycle cache.
type Provider struct {
	Client *Client
	Cache  *backend.Cache
}

// Model returns a loaded embedding model for the key.
func (p *Provider) Model(ctx context.Context, model string) (backend.Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	h, err := p.Cache.GetOrLoad(ctx, backend.KindEmbed, model, func(ctx context.Context, key string) (backend.Handle, error) {
		return p.Client.Load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return h.(*Model), nil
}
