// Package analyze runs LLM passes over transcripts: summaries, outlines, and
// meeting detection that separates real conversations from speech-recognition
// hallucinations.
package analyze

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/transcript"
)

// Kind selects the analysis prompt.
type Kind string

const (
	Summarize     Kind = "summarize"
	Outline       Kind = "outline"
	DetectMeeting Kind = "detect_meeting"
)

const (
	// maxAnalyzeChars bounds summary/outline input for context window safety.
	maxAnalyzeChars = 8000

	// maxDetectChars bounds detection input; classification needs less text.
	maxDetectChars = 4000
)

const summarizePrompt = `Please provide a concise summary of the following transcript. Include key topics discussed, main points, and any important details. Keep timestamps where relevant.

Transcript:
%s

Summary:`

const outlinePrompt = `Please create a structured outline of the following transcript. Use headings and bullet points. Include timestamps for each section.

Transcript:
%s

Outline:`

const detectPrompt = `Analyze this transcript and determine if it contains a real conversation or meeting, or if it is hallucinated/repetitive nonsense from a speech recognition model.

Signs of HALLUCINATION: identical repeated phrases, single-word loops (e.g. "I" repeated many times), no conversational flow, no topic progression, very short repeated segments.
Signs of REAL MEETING: varied sentences, questions and answers, topic changes, multiple speakers, natural conversation flow, specific details like names/places/plans.

Respond with ONLY this JSON (no other text):
{"has_meeting": true, "confidence": 85, "reason": "one sentence explanation"}

The confidence field is an integer from 0 to 100 where 100 means absolute certainty.

Transcript:
%s

JSON:`

// Analyzer runs analysis prompts through a completion backend. Out receives
// the progress stream.
type Analyzer struct {
	LLM backend.Completer
	Out io.Writer
}

// Result is the outcome of one transcript analysis.
type Result struct {
	File   string `json:"file"`
	Type   Kind   `json:"type"`
	Result string `json:"result"`
}

// Analyze reads a transcript and runs the selected prompt over it.
func (a *Analyzer) Analyze(ctx context.Context, transcriptPath string, kind Kind) (*Result, error) {
	text, err := transcript.Content(transcriptPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.CodeTranscriptMissing, "transcript is empty")
	}

	prompt, err := buildPrompt(kind, truncate(text, maxAnalyzeChars))
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(a.Out, "[ANALYZE] %s using %s...\n", title(string(kind)), a.LLM.Name())
	reply, err := a.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Result{File: transcriptPath, Type: kind, Result: reply}, nil
}

func buildPrompt(kind Kind, text string) (string, error) {
	switch kind {
	case Summarize:
		return fmt.Sprintf(summarizePrompt, text), nil
	case Outline:
		return fmt.Sprintf(outlinePrompt, text), nil
	case DetectMeeting:
		return fmt.Sprintf(detectPrompt, text), nil
	default:
		return "", apperr.Newf(apperr.CodeInvalidArgument, "unknown analysis type: %s", kind)
	}
}

func truncate(text string, limit int) string {
	if len(text) > limit {
		return text[:limit] + "\n... (truncated)"
	}
	return text
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
