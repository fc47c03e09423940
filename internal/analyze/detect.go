package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/longscribe/engine/internal/transcript"
)

// minUniqueRatio is the repetition cutoff below which a transcript is
// classified as hallucinated without an LLM call.
const minUniqueRatio = 0.15

// minLinesForRatio is how many lines a transcript needs before the
// repetition pre-filter applies; shorter ones always go to the LLM.
const minLinesForRatio = 5

// Detection classifies one transcript as a real meeting or a hallucination.
type Detection struct {
	File       string `json:"file"`
	HasMeeting bool   `json:"has_meeting"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// DetectMeetings classifies every transcript under the given roots. Per-file
// failures become low-confidence negative detections; the batch keeps going.
func (a *Analyzer) DetectMeetings(ctx context.Context, roots ...string) ([]Detection, error) {
	files := transcript.Collect(roots...)
	total := len(files)
	fmt.Fprintf(a.Out, "[DETECT] Found %d transcript files to analyze\n", total)
	if total == 0 {
		return nil, nil
	}

	results := make([]Detection, 0, total)
	meetings := 0

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(a.Out, "\n[%d/%d] Analyzing: %s\n", i+1, total, filepath.Base(path))

		d := a.detectOne(ctx, path)
		if d.HasMeeting {
			meetings++
		}
		results = append(results, d)
	}

	fmt.Fprintf(a.Out, "\nMEETING DETECTION COMPLETE\n")
	fmt.Fprintf(a.Out, "Total transcripts: %d\n", total)
	fmt.Fprintf(a.Out, "Meetings found: %d\n", meetings)
	fmt.Fprintf(a.Out, "Hallucinated: %d\n", total-meetings)
	return results, nil
}

func (a *Analyzer) detectOne(ctx context.Context, path string) Detection {
	lines, err := transcript.ContentLines(path)
	if err != nil {
		fmt.Fprintf(a.Out, "  [ERROR] %v\n", err)
		return Detection{File: path, Confidence: 0, Reason: err.Error()}
	}
	if len(lines) == 0 {
		fmt.Fprintf(a.Out, "  [SKIP] Empty transcript\n")
		return Detection{File: path, Confidence: 100, Reason: "Empty transcript"}
	}

	if len(lines) > minLinesForRatio {
		if ratio := UniqueRatio(lines); ratio < minUniqueRatio {
			fmt.Fprintf(a.Out, "  [NO_MEETING] Repetition ratio %.2f — clearly hallucinated\n", ratio)
			return Detection{
				File:       path,
				Confidence: 99,
				Reason:     fmt.Sprintf("Extreme repetition (unique ratio: %.2f)", ratio),
			}
		}
	}

	text := truncate(strings.Join(lines, "\n"), maxDetectChars)
	reply, err := a.LLM.Complete(ctx, fmt.Sprintf(detectPrompt, text))
	if err != nil {
		fmt.Fprintf(a.Out, "  [ERROR] %v\n", err)
		return Detection{File: path, Confidence: 0, Reason: err.Error()}
	}

	d := ParseDetection(reply)
	d.File = path
	tag := "NO_MEETING"
	if d.HasMeeting {
		tag = "MEETING_DETECTED"
	}
	fmt.Fprintf(a.Out, "  [%s] confidence=%d — %s\n", tag, d.Confidence, d.Reason)
	return d
}

// UniqueRatio measures how varied a transcript's utterances are. Text after
// the closing timestamp bracket is compared; identical repeats signal
// hallucination.
func UniqueRatio(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		text := l
		if i := strings.LastIndex(l, "]"); i >= 0 {
			text = strings.TrimSpace(l[i+1:])
		}
		seen[text] = struct{}{}
	}
	return float64(len(seen)) / float64(len(lines))
}

// ParseDetection extracts a detection verdict from an LLM reply. Models often
// wrap the JSON in prose, so everything between the first "{" and the last
// "}" is tried first; confidence given as a 0..1 fraction is scaled to 0..100.
func ParseDetection(reply string) Detection {
	raw := reply
	if start := strings.Index(reply, "{"); start >= 0 {
		if end := strings.LastIndex(reply, "}"); end > start {
			raw = reply[start : end+1]
		}
	}

	var parsed struct {
		HasMeeting bool            `json:"has_meeting"`
		Confidence json.RawMessage `json:"confidence"`
		Reason     string          `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// Fallback: keyword scan over the raw reply.
		lower := strings.ToLower(reply)
		return Detection{
			HasMeeting: strings.Contains(lower, "has_meeting") && strings.Contains(lower, "true"),
			Confidence: 50,
			Reason:     "Could not parse JSON: " + reply[:min(len(reply), 100)],
		}
	}

	confidence := 50
	if len(parsed.Confidence) > 0 {
		var f float64
		if err := json.Unmarshal(parsed.Confidence, &f); err == nil {
			if f <= 1.0 && strings.Contains(string(parsed.Confidence), ".") {
				f *= 100
			}
			confidence = int(f)
		}
	}

	return Detection{
		HasMeeting: parsed.HasMeeting,
		Confidence: confidence,
		Reason:     parsed.Reason,
	}
}
