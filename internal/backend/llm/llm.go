// Package llm provides text-completion clients behind a single Complete
// surface. Local completions go through an Ollama server; cloud completions
// go through the OpenAI, Gemini (OpenAI-compatible endpoint), or Anthropic
// APIs with retry and circuit-breaker protection.
package llm

import (
	"time"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

const (
	ProviderLocal  = "local"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"

	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultOpenAIModel = "gpt-4o"
	DefaultClaudeModel = "claude-sonnet-4-20250514"

	defaultMaxTokens   = 2048
	defaultTemperature = 0.3
	cloudTimeout       = 2 * time.Minute
)

// Options selects and configures a completion provider.
type Options struct {
	Provider string // local|gemini|openai|claude, defaults to local
	Model    string // provider model override; empty picks the provider default
	APIKey   string // cloud providers only
	BaseURL  string // override for tests and self-hosted gateways

	// OllamaURL is the local server address used when Provider is local.
	OllamaURL string
}

// New returns a completer for the selected provider.
func New(opts Options) (backend.Completer, error) {
	switch opts.Provider {
	case "", ProviderLocal:
		return NewOllama(OllamaConfig{URL: opts.OllamaURL, Model: opts.Model}), nil
	case ProviderGemini:
		return newGemini(opts)
	case ProviderOpenAI:
		return newOpenAI(opts)
	case ProviderClaude:
		return newClaude(opts)
	default:
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "unknown provider: %s", opts.Provider)
	}
}
