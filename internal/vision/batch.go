package vision

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperr "github.com/longscribe/engine/internal/errors"
)

// batchFrames samples just the first and last frame of each video.
const batchFrames = 2

// StampPair holds the start and end overlay timestamps of one video, for
// renaming recordings after their real-world time range.
type StampPair struct {
	File           string  `json:"file"`
	Path           string  `json:"path"`
	StartTimestamp *string `json:"start_timestamp"`
	EndTimestamp   *string `json:"end_timestamp"`
	DurationSec    float64 `json:"duration_sec,omitempty"`
	Err            string  `json:"error,omitempty"`
}

// BatchStamps reads start and end overlay timestamps from every .mp4 under a
// folder. With a prefix only matching file names are processed; failures
// yield an error entry and the batch keeps going.
func (e *Extractor) BatchStamps(ctx context.Context, folder string, recursive bool, prefix string) ([]StampPair, error) {
	videos, err := e.listVideos(folder, recursive, prefix)
	if err != nil {
		return nil, err
	}
	scope := folder
	if recursive {
		scope += " (including subfolders)"
	}
	if prefix != "" {
		scope += " [prefix: " + prefix + "]"
	}
	e.printf("[BATCH] Found %d video(s) in %s", len(videos), scope)

	results := make([]StampPair, 0, len(videos))
	for i, path := range videos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.printf("\n[BATCH] Processing %d/%d: %s", i+1, len(videos), filepath.Base(path))
		results = append(results, e.stampOne(ctx, path))
	}

	e.printf("\n[BATCH] Done — processed %d videos.", len(videos))
	return results, nil
}

func (e *Extractor) stampOne(ctx context.Context, path string) StampPair {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	pair := StampPair{File: filepath.Base(path), Path: abs}

	frames, duration, tmpDir, err := e.ExtractFrames(ctx, path, batchFrames)
	if tmpDir != "" {
		defer os.RemoveAll(tmpDir)
	}
	if err != nil || len(frames) < batchFrames {
		e.printf("[BATCH] Skipping %s — could not extract %d frames", pair.File, batchFrames)
		pair.Err = "Could not extract frames"
		return pair
	}
	pair.DurationSec = round1(duration)

	for i, frame := range frames {
		raw := errorReply
		cropped, _, cerr := e.cropFrame(frame.Path)
		if cerr == nil {
			if text, rerr := e.VLM.ReadImage(ctx, cropped, ReadPrompt); rerr == nil {
				raw = text
			}
		}
		label := "start"
		if i > 0 {
			label = "end"
		}
		e.printf("[BATCH]   %s: %s", label, raw)

		if readable(raw) {
			text := raw
			if i == 0 {
				pair.StartTimestamp = &text
			} else {
				pair.EndTimestamp = &text
			}
		}
	}
	return pair
}

func (e *Extractor) listVideos(folder string, recursive bool, prefix string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return nil, errFolderNotFound(folder, err)
	}

	var videos []string
	if recursive {
		err = filepath.Walk(folder, func(path string, fi os.FileInfo, werr error) error {
			if werr != nil || fi.IsDir() {
				return nil
			}
			if isStampTarget(fi.Name(), prefix) {
				videos = append(videos, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, rerr := os.ReadDir(folder)
		if rerr != nil {
			return nil, errFolderNotFound(folder, rerr)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isStampTarget(entry.Name(), prefix) {
				videos = append(videos, filepath.Join(folder, entry.Name()))
			}
		}
	}

	sort.Strings(videos)
	return videos, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func errFolderNotFound(folder string, cause error) error {
	if cause != nil {
		return apperr.Wrapf(cause, apperr.CodeInvalidArgument, "folder not found: %s", folder)
	}
	return apperr.Newf(apperr.CodeInvalidArgument, "not a directory: %s", folder)
}

func isStampTarget(name, prefix string) bool {
	if !strings.EqualFold(filepath.Ext(name), ".mp4") {
		return false
	}
	return prefix == "" || strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix))
}
