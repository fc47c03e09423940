package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/longscribe/engine/internal/media"
)

type fakeVLM struct {
	replies []string
	calls   int
}

func (f *fakeVLM) ReadImage(ctx context.Context, img []byte, prompt string) (string, error) {
	reply := f.replies[f.calls%len(f.replies)]
	f.calls++
	return reply, nil
}

// writeCheckerboard writes a high-frequency test frame.
func writeCheckerboard(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			if (x/8+y/8)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	writeJPEG(t, path, img)
}

// writeGradient writes a smooth low-frequency test frame.
func writeGradient(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	writeJPEG(t, path, img)
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fakeFrames(frames []media.Frame, duration float64) func(context.Context, string, int) ([]media.Frame, float64, string, error) {
	return func(ctx context.Context, path string, n int) ([]media.Frame, float64, string, error) {
		return frames, duration, "", nil
	}
}

func TestExtractVotesAndDedups(t *testing.T) {
	dir := t.TempDir()
	a1 := filepath.Join(dir, "f0.jpg")
	a2 := filepath.Join(dir, "f1.jpg")
	b := filepath.Join(dir, "f2.jpg")
	writeCheckerboard(t, a1)
	writeCheckerboard(t, a2)
	writeGradient(t, b)

	vlm := &fakeVLM{replies: []string{"12:00", "12:05"}}
	e := NewExtractor(vlm, &bytes.Buffer{})
	e.ExtractFrames = fakeFrames([]media.Frame{
		{Path: a1, TimestampSec: 1.0},
		{Path: a2, TimestampSec: 50.0},
		{Path: b, TimestampSec: 99.0},
	}, 100)

	stamps, err := e.Extract(context.Background(), "/v/cam.mp4", 3)
	if err != nil {
		t.Fatal(err)
	}

	// The repeated frame reuses the first reading instead of a second call.
	if vlm.calls != 2 {
		t.Errorf("vlm calls = %d, want 2", vlm.calls)
	}
	if stamps.Consensus != "12:00" {
		t.Errorf("consensus = %q", stamps.Consensus)
	}
	if stamps.FramesExtracted != 3 || stamps.FramesReadable != 3 {
		t.Errorf("frames = %d readable %d", stamps.FramesExtracted, stamps.FramesReadable)
	}
	if stamps.FirstTimestamp != "12:00" || stamps.LastTimestamp != "12:05" {
		t.Errorf("range = %q..%q", stamps.FirstTimestamp, stamps.LastTimestamp)
	}
	if stamps.VideoDuration != 100 {
		t.Errorf("duration = %v", stamps.VideoDuration)
	}
	if stamps.Timestamps[1].RawText != "12:00" {
		t.Errorf("deduped frame text = %q", stamps.Timestamps[1].RawText)
	}
}

func TestExtractUnreadableFrames(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f0.jpg")
	writeGradient(t, f)

	vlm := &fakeVLM{replies: []string{"NONE"}}
	e := NewExtractor(vlm, &bytes.Buffer{})
	e.ExtractFrames = fakeFrames([]media.Frame{{Path: f, TimestampSec: 5}}, 10)

	stamps, err := e.Extract(context.Background(), "/v/cam.mp4", 1)
	if err != nil {
		t.Fatal(err)
	}
	if stamps.Consensus != "" {
		t.Errorf("consensus = %q, want none", stamps.Consensus)
	}
	if stamps.FramesReadable != 0 {
		t.Errorf("readable = %d", stamps.FramesReadable)
	}
	if stamps.Timestamps[0].Confidence != "low" {
		t.Errorf("confidence = %q", stamps.Timestamps[0].Confidence)
	}
}

func TestConsensus(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  string
	}{
		{"majority", []string{"a", "b", "a"}, "a"},
		{"ignores unreadable", []string{"NONE", "ERROR", "", "x"}, "x"},
		{"all unreadable", []string{"NONE", "ERROR"}, ""},
		{"tie keeps first seen", []string{"a", "b"}, "a"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Consensus(tt.texts); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBatchStamps(t *testing.T) {
	videos := t.TempDir()
	touch := func(name string) {
		if err := os.WriteFile(filepath.Join(videos, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	touch("cam_a.mp4")
	touch("cam_b.mp4")
	touch("other.mkv")

	frameDir := t.TempDir()
	first := filepath.Join(frameDir, "f0.jpg")
	last := filepath.Join(frameDir, "f1.jpg")
	writeCheckerboard(t, first)
	writeGradient(t, last)

	vlm := &fakeVLM{replies: []string{"08:00", "09:30"}}
	e := NewExtractor(vlm, &bytes.Buffer{})
	e.ExtractFrames = fakeFrames([]media.Frame{
		{Path: first, TimestampSec: 2},
		{Path: last, TimestampSec: 58},
	}, 60)

	results, err := e.BatchStamps(context.Background(), videos, false, "cam")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	r := results[0]
	if r.File != "cam_a.mp4" {
		t.Errorf("file = %q", r.File)
	}
	if r.StartTimestamp == nil || *r.StartTimestamp != "08:00" {
		t.Errorf("start = %v", r.StartTimestamp)
	}
	if r.EndTimestamp == nil || *r.EndTimestamp != "09:30" {
		t.Errorf("end = %v", r.EndTimestamp)
	}
	if r.DurationSec != 60 {
		t.Errorf("duration = %v", r.DurationSec)
	}
}

func TestBatchStampsFrameFailure(t *testing.T) {
	videos := t.TempDir()
	if err := os.WriteFile(filepath.Join(videos, "cam.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor(&fakeVLM{replies: []string{"x"}}, &bytes.Buffer{})
	e.ExtractFrames = fakeFrames(nil, 0)

	results, err := e.BatchStamps(context.Background(), videos, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err == "" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].StartTimestamp != nil {
		t.Errorf("start must be null on failure")
	}
}

func TestBatchStampsMissingFolder(t *testing.T) {
	e := NewExtractor(&fakeVLM{replies: []string{"x"}}, &bytes.Buffer{})
	if _, err := e.BatchStamps(context.Background(), filepath.Join(t.TempDir(), "nope"), false, ""); err == nil {
		t.Fatal("expected error for missing folder")
	}
}
