// Package backend defines the narrow call surfaces of the external inference
// backends and the single-slot lifecycle cache that keeps at most one loaded
// instance per backend kind.
package backend

import "context"

// Kind identifies a backend slot in the cache.
type Kind string

const (
	KindSpeech Kind = "speech"
	KindVAD    Kind = "vad"
	KindEmbed  Kind = "embed"
	KindVision Kind = "vision"
)

// Segment is one transcribed utterance span.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Span is one detected speech span without text.
type Span struct {
	Start float64
	End   float64
}

// Window is an explicit [start, end] clip in seconds.
type Window struct {
	Start float64
	End   float64
}

// SpeechOptions control a speech-recognition call.
type SpeechOptions struct {
	VADFilter    bool
	BeamSize     int
	MinSilenceMS int
	Clip         *Window
}

// SpeechResult is the ordered segment list plus total media duration.
type SpeechResult struct {
	Segments []Segment
	Duration float64
}

// SpeechEngine is a loaded speech-recognition model.
type SpeechEngine interface {
	Transcribe(ctx context.Context, path string, opts SpeechOptions) (*SpeechResult, error)
}

// SpeechProvider resolves a speech engine for a model key, loading or
// swapping the cached instance as needed.
type SpeechProvider interface {
	Engine(ctx context.Context, model string) (SpeechEngine, error)
}

// VADEngine detects speech spans in raw mono 16 kHz PCM samples.
type VADEngine interface {
	Detect(ctx context.Context, pcm []byte, sampleRate int, threshold float64) ([]Span, error)
}

// VADProvider resolves the voice-activity engine.
type VADProvider interface {
	Engine(ctx context.Context) (VADEngine, error)
}

// Match is one ranked chunk from the embedding backend.
type Match struct {
	Index int
	Score float64
}

// Embedder ranks text chunks against a query, best first, dropping
// candidates below the backend's similarity floor.
type Embedder interface {
	Rank(ctx context.Context, query string, chunks []string) ([]Match, error)
}

// Completer produces a text completion for a prompt. Implementations are a
// local model server or a remote API, selected by a provider tag.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// VisionReader answers a text prompt about an image.
type VisionReader interface {
	ReadImage(ctx context.Context, image []byte, prompt string) (string, error)
}
