// Package vision extracts burned-in timestamps from video frames. Frames are
// sampled across the recording, cropped to the overlay region, deduplicated
// by perceptual hash, and read by a vision-language model; majority voting
// across frames settles the final text.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/corona10/goimagehash"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/media"
)

const (
	// DefaultFrames is how many frames a full extraction samples.
	DefaultFrames = 5

	// DefaultCropRatio is the top fraction of the frame holding the overlay.
	DefaultCropRatio = 0.08

	// minCropPixels keeps the crop readable on low-resolution frames.
	minCropPixels = 10

	// maxHashDistance is the Hamming cutoff below which two cropped frames
	// count as identical and share one model read.
	maxHashDistance = 5

	jpegQuality = 95

	noneReply  = "NONE"
	errorReply = "ERROR"
)

// ReadPrompt asks the model for the overlay text and nothing else.
const ReadPrompt = "Read the exact timestamp and camera name shown in this image. " +
	"Return ONLY the timestamp text in the format it appears, nothing else. " +
	"If no timestamp is visible, respond with 'NONE'."

// FrameRead is one frame's extraction attempt.
type FrameRead struct {
	FrameSec   float64 `json:"frame_sec"`
	RawText    string  `json:"raw_text"`
	Confidence string  `json:"confidence"`
}

// Stamps is the outcome of a full timestamp extraction.
type Stamps struct {
	File            string      `json:"file"`
	Timestamps      []FrameRead `json:"timestamps"`
	Consensus       string      `json:"consensus,omitempty"`
	FramesExtracted int         `json:"frames_extracted"`
	FramesReadable  int         `json:"frames_readable"`
	VideoDuration   float64     `json:"video_duration_sec"`
	FirstTimestamp  string      `json:"first_timestamp,omitempty"`
	LastTimestamp   string      `json:"last_timestamp,omitempty"`
}

// Extractor reads overlay timestamps through a vision model.
type Extractor struct {
	VLM       backend.VisionReader
	Out       io.Writer
	CropRatio float64

	// ExtractFrames samples evenly spaced frames from a video.
	ExtractFrames func(ctx context.Context, path string, n int) ([]media.Frame, float64, string, error)
}

// NewExtractor creates an extractor with standard sampling settings.
func NewExtractor(vlm backend.VisionReader, out io.Writer) *Extractor {
	return &Extractor{
		VLM:           vlm,
		Out:           out,
		CropRatio:     DefaultCropRatio,
		ExtractFrames: media.ExtractFrames,
	}
}

func (e *Extractor) printf(format string, args ...any) {
	fmt.Fprintf(e.Out, format+"\n", args...)
}

// Extract samples frames from a video and reads the overlay timestamp from
// each, voting across frames for the consensus text.
func (e *Extractor) Extract(ctx context.Context, path string, numFrames int) (*Stamps, error) {
	if numFrames <= 0 {
		numFrames = DefaultFrames
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	e.printf("[TIMESTAMP] Processing: %s", path)
	e.printf("[TIMESTAMP] Extracting %d frames...", numFrames)

	frames, duration, tmpDir, err := e.ExtractFrames(ctx, path, numFrames)
	if tmpDir != "" {
		defer os.RemoveAll(tmpDir)
	}
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, apperr.New(apperr.CodeMediaProbe, "no frames could be extracted")
	}
	e.printf("[TIMESTAMP] Extracted %d frames", len(frames))

	reads := make([]FrameRead, 0, len(frames))
	var prevHash *goimagehash.ImageHash
	prevText := ""

	for i, frame := range frames {
		e.printf("[TIMESTAMP] Reading frame %d/%d (at %.1fs)...", i+1, len(frames), frame.TimestampSec)

		raw := errorReply
		cropped, hash, cerr := e.cropFrame(frame.Path)
		switch {
		case cerr != nil:
			e.printf("[TIMESTAMP] Frame %d crop failed: %v", i+1, cerr)
		case sameFrame(prevHash, hash):
			raw = prevText
		default:
			text, rerr := e.VLM.ReadImage(ctx, cropped, ReadPrompt)
			if rerr != nil {
				e.printf("[TIMESTAMP] Frame %d read failed: %v", i+1, rerr)
			} else {
				raw = text
			}
		}
		if hash != nil {
			prevHash = hash
			prevText = raw
		}

		confidence := "low"
		if readable(raw) {
			confidence = "high"
		}
		reads = append(reads, FrameRead{
			FrameSec:   math.Round(frame.TimestampSec*10) / 10,
			RawText:    raw,
			Confidence: confidence,
		})
		e.printf("[TIMESTAMP] Frame %d: %s (%s)", i+1, raw, confidence)
	}

	texts := make([]string, len(reads))
	for i, r := range reads {
		texts[i] = r.RawText
	}
	consensus := Consensus(texts)

	out := &Stamps{
		File:            abs,
		Timestamps:      reads,
		Consensus:       consensus,
		FramesExtracted: len(frames),
		VideoDuration:   math.Round(duration*10) / 10,
	}
	var high []FrameRead
	for _, r := range reads {
		if r.Confidence == "high" {
			high = append(high, r)
		}
	}
	out.FramesReadable = len(high)
	if len(high) >= 2 {
		out.FirstTimestamp = high[0].RawText
		out.LastTimestamp = high[len(high)-1].RawText
	}

	e.printf("\n[TIMESTAMP] === Results ===")
	e.printf("[TIMESTAMP] Consensus: %s", consensus)
	e.printf("[TIMESTAMP] Readable frames: %d/%d", len(high), len(frames))
	return out, nil
}

// cropFrame loads a frame file and crops the overlay band off the top,
// returning the re-encoded JPEG and its perceptual hash.
func (e *Extractor) cropFrame(path string) ([]byte, *goimagehash.ImageHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeFileProcessing, "read frame")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeFileProcessing, "decode frame")
	}

	ratio := e.CropRatio
	if ratio <= 0 {
		ratio = DefaultCropRatio
	}
	bounds := img.Bounds()
	cropH := int(float64(bounds.Dy()) * ratio)
	if cropH < minCropPixels {
		cropH = minCropPixels
	}
	if cropH > bounds.Dy() {
		cropH = bounds.Dy()
	}

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	cropped := img
	if si, ok := img.(subImager); ok {
		cropped = si.SubImage(image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+cropH))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeFileProcessing, "encode crop")
	}

	hash, err := goimagehash.PerceptionHash(cropped)
	if err != nil {
		hash = nil
	}
	return buf.Bytes(), hash, nil
}

func sameFrame(prev, cur *goimagehash.ImageHash) bool {
	if prev == nil || cur == nil {
		return false
	}
	dist, err := prev.Distance(cur)
	return err == nil && dist <= maxHashDistance
}

func readable(raw string) bool {
	return raw != "" && raw != noneReply && raw != errorReply
}

// Consensus majority-votes the extracted texts, ignoring unreadable frames.
// Empty string means no frame produced a usable reading.
func Consensus(texts []string) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(texts))
	for _, t := range texts {
		if !readable(t) {
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}

	best := ""
	bestN := 0
	for _, t := range order {
		if counts[t] > bestN {
			best, bestN = t, counts[t]
		}
	}
	return best
}
