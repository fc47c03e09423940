package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	apperr "github.com/longscribe/engine/internal/errors"
)

// ProbeDuration returns the media duration in seconds via ffprobe.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, apperr.Wrapf(err, apperr.CodeMediaProbe, "ffprobe %q: %s", path, exitStderr(err))
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, apperr.Wrapf(err, apperr.CodeMediaProbe, "parse ffprobe duration for %q", path)
	}
	if dur <= 0 {
		return 0, apperr.Newf(apperr.CodeMediaProbe, "%q has zero duration", path)
	}
	return dur, nil
}

// ExtractPCM decodes a media file to mono 16 kHz s16le samples, the input
// format the voice-activity backend expects. Returns the raw sample buffer
// and the decoded duration in seconds.
func ExtractPCM(ctx context.Context, path string) ([]byte, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(PCMSampleRate), "-ac", "1",
		"-v", "quiet",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, 0, apperr.Wrapf(err, apperr.CodeFileProcessing,
			"ffmpeg decode %q: %s", path, firstLine(stderr.String()))
	}

	pcm := stdout.Bytes()
	duration := float64(len(pcm)/2) / float64(PCMSampleRate)
	return pcm, duration, nil
}

// ExtractFrame writes a single JPEG frame at the given offset to outPath.
func ExtractFrame(ctx context.Context, path string, at float64, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-ss", fmt.Sprintf("%.2f", at),
		"-i", path,
		"-vframes", "1", "-q:v", FrameQuality,
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apperr.Wrapf(err, apperr.CodeFileProcessing,
			"ffmpeg frame at %.1fs from %q: %s", at, path, firstLine(stderr.String()))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return apperr.Newf(apperr.CodeFileProcessing, "frame at %.1fs produced empty file", at)
	}
	return nil
}

// Frame is one extracted video frame.
type Frame struct {
	Path         string
	TimestampSec float64
}

// ExtractFrames samples n evenly spaced frames from a video into a fresh
// temp directory. Frames that fail to extract are skipped. The caller owns
// the returned directory and should remove it when done.
func ExtractFrames(ctx context.Context, path string, n int) ([]Frame, float64, string, error) {
	duration, err := ProbeDuration(ctx, path)
	if err != nil {
		return nil, 0, "", err
	}

	tmpDir, err := os.MkdirTemp("", "ls_frames_")
	if err != nil {
		return nil, 0, "", apperr.Wrap(err, apperr.CodeFileProcessing, "create frame temp dir")
	}

	var frames []Frame
	for i, at := range FrameTimes(duration, n) {
		out := filepath.Join(tmpDir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := ExtractFrame(ctx, path, at, out); err != nil {
			continue
		}
		frames = append(frames, Frame{Path: out, TimestampSec: at})
	}
	return frames, duration, tmpDir, nil
}

// FrameTimes computes n evenly spaced sample offsets for a video of the
// given duration. The first and last second are avoided to skip potential
// black frames; a 2-frame request spaces wider (first + last) for the batch
// start/end timestamp pass.
func FrameTimes(duration float64, n int) []float64 {
	switch {
	case n <= 1:
		return []float64{duration / 2}
	case n == 2:
		start := min(2.0, duration*0.05)
		end := max(duration-2.0, duration*0.95)
		return []float64{start, end}
	default:
		start := min(1.0, duration*0.05)
		end := max(duration-1.0, duration*0.95)
		step := (end - start) / float64(n-1)
		times := make([]float64, n)
		for i := range times {
			times[i] = start + float64(i)*step
		}
		return times
	}
}

func exitStderr(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return firstLine(string(ee.Stderr))
	}
	return err.Error()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
