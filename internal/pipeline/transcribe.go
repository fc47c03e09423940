package pipeline

import (
	"context"
	"os"
	"strings"

	"github.com/longscribe/engine/internal/backend"
	"github.com/longscribe/engine/internal/media"
	"github.com/longscribe/engine/internal/report"
	"github.com/longscribe/engine/internal/transcript"
)

// WindowOptions configures a windowed high-accuracy transcription.
type WindowOptions struct {
	File         string
	Start, End   float64
	Model        string // empty uses DefaultTranscribeModel
	OutputDir    string
	SkipExisting bool
}

// TranscribeWindow transcribes one [start,end] window of a file with the
// high-accuracy model and appends the section to the file's transcript.
// It returns the utterance lines written.
func (p *Pipeline) TranscribeWindow(ctx context.Context, opts WindowOptions) ([]string, error) {
	model := opts.Model
	if model == "" {
		model = DefaultTranscribeModel
	}
	p.printf("[STATUS] Transcribing: %s", opts.File)
	p.printf("[STATUS] Range: %.1fs - %.1fs", opts.Start, opts.End)

	outPath := transcript.OutputPath(opts.File, opts.OutputDir, model)
	if opts.SkipExisting && fileExists(outPath) {
		p.printf("[SKIPPING] Target exists: %s", outPath)
		return nil, nil
	}

	engine, err := p.Speech.Engine(ctx, model)
	if err != nil {
		return nil, err
	}
	result, err := engine.Transcribe(ctx, opts.File, backend.SpeechOptions{
		VADFilter: true,
		BeamSize:  transcribeBeamSize,
		Clip:      &backend.Window{Start: opts.Start, End: opts.End},
	})
	if err != nil {
		return nil, err
	}

	lines := p.utteranceLines(result.Segments)
	win := backend.Window{Start: opts.Start, End: opts.End}
	if err := transcript.AppendSection(outPath, opts.File, win, lines); err != nil {
		return nil, err
	}
	p.printf("[SAVED] %s", outPath)
	return lines, nil
}

// ReportOptions configures transcription driven by a prior scan report.
type ReportOptions struct {
	ReportPath   string // empty uses the default report name
	OutputDir    string
	SkipExisting bool
	Model        string // empty uses DefaultBatchModel
}

// TranscribeFromReport reads a scan report and transcribes every detected
// speech block with the high-accuracy model. A missing report is fatal for
// the invocation; per-block failures are printed and skipped.
func (p *Pipeline) TranscribeFromReport(ctx context.Context, opts ReportOptions) error {
	reportPath := opts.ReportPath
	if reportPath == "" {
		reportPath = report.DefaultFileName
	}
	rep, err := report.Load(reportPath)
	if err != nil {
		return err
	}

	model := opts.Model
	if model == "" {
		model = DefaultBatchModel
	}

	var voiced []report.Entry
	totalBlocks := 0
	for _, r := range rep.Results {
		if !r.Failed() && len(r.Blocks) > 0 {
			voiced = append(voiced, r)
			totalBlocks += len(r.Blocks)
		}
	}
	p.printf("[BATCH] Found %d files with voice (%d blocks to transcribe)", len(voiced), totalBlocks)
	p.printf("[BATCH] Loading %s model (one-time)...", model)

	blockNum := 0
	for i, entry := range voiced {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.printf("\n[%d/%d] %s", i+1, len(voiced), entry.File)
		for _, b := range entry.Blocks {
			blockNum++
			p.printf("  Block %d/%d: %.1fs - %.1fs", blockNum, totalBlocks, b.Start, b.End)
			_, err := p.TranscribeWindow(ctx, WindowOptions{
				File:         entry.File,
				Start:        b.Start,
				End:          b.End,
				Model:        model,
				OutputDir:    opts.OutputDir,
				SkipExisting: opts.SkipExisting,
			})
			if err != nil {
				p.printf("  [ERROR] %v", err)
			}
		}
	}

	p.printf("\nBATCH TRANSCRIPTION COMPLETE")
	p.printf("Files processed: %d", len(voiced))
	p.printf("Blocks transcribed: %d", blockNum)
	return nil
}

// DirOptions configures whole-directory transcription.
type DirOptions struct {
	Directory    string
	UseVAD       bool
	OutputDir    string
	SkipExisting bool
	Model        string // empty uses DefaultBatchModel
}

// TranscribeDir transcribes every media file under a directory in full,
// overwriting each file's transcript.
func (p *Pipeline) TranscribeDir(ctx context.Context, opts DirOptions) error {
	files, err := media.Discover(opts.Directory)
	if err != nil {
		p.Log.Warn("discovery failed", "dir", opts.Directory, "error", err)
		files = nil
	}
	total := len(files)
	model := opts.Model
	if model == "" {
		model = DefaultBatchModel
	}
	p.printf("[BATCH] Found %d media files in: %s", total, opts.Directory)
	p.printf("[BATCH] VAD: %s", onOffNoisy(opts.UseVAD))
	p.printf("[BATCH] Loading %s model (one-time)...", model)

	engine, err := p.Speech.Engine(ctx, model)
	if err != nil {
		return err
	}

	transcribed, errors := 0, 0
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		outPath := transcript.OutputPath(path, opts.OutputDir, model)
		if opts.SkipExisting && fileExists(outPath) {
			p.printf("\n[%d/%d] [SKIPPING] %s", i+1, total, path)
			continue
		}

		p.printf("\n[%d/%d] Transcribing: %s", i+1, total, path)

		result, err := engine.Transcribe(ctx, path, fullFileOptions(opts.UseVAD))
		if err != nil {
			p.printf("[ERROR] %v", err)
			errors++
			continue
		}

		lines := p.utteranceLines(result.Segments)
		if len(lines) == 0 {
			p.printf("[SILENT] %s", path)
			continue
		}
		if err := transcript.WriteFull(outPath, path, result.Duration, lines); err != nil {
			p.printf("[ERROR] %v", err)
			errors++
			continue
		}
		p.printf("[SAVED] %s", outPath)
		transcribed++
	}

	p.printf("\nBATCH TRANSCRIPTION COMPLETE")
	p.printf("Total files: %d", total)
	p.printf("Transcribed: %d", transcribed)
	p.printf("Errors:      %d", errors)
	return nil
}

// FileOptions configures whole-file transcription of one media file.
type FileOptions struct {
	File         string
	Model        string // empty uses DefaultTranscribeModel
	UseVAD       bool
	OutputDir    string
	SkipExisting bool
}

// TranscribeFile transcribes a single media file in full, overwriting its
// transcript with a header that records the model used.
func (p *Pipeline) TranscribeFile(ctx context.Context, opts FileOptions) error {
	model := opts.Model
	if model == "" {
		model = DefaultTranscribeModel
	}
	p.printf("[STATUS] Transcribing full file: %s", opts.File)
	p.printf("[STATUS] Model: %s", model)

	outPath := transcript.OutputPath(opts.File, opts.OutputDir, model)
	if opts.SkipExisting && fileExists(outPath) {
		p.printf("[SKIPPING] Target exists: %s", outPath)
		return nil
	}

	p.printf("[STATUS] VAD: %s", onOff(opts.UseVAD))
	p.printf("[BATCH] Loading %s model...", model)

	engine, err := p.Speech.Engine(ctx, model)
	if err != nil {
		return err
	}
	result, err := engine.Transcribe(ctx, opts.File, fullFileOptions(opts.UseVAD))
	if err != nil {
		return err
	}

	lines := p.utteranceLines(result.Segments)
	if len(lines) == 0 {
		p.printf("[SILENT] %s", opts.File)
	} else {
		if err := transcript.WriteNamed(outPath, opts.File, model, result.Duration, lines); err != nil {
			return err
		}
		p.printf("[SAVED] %s", outPath)
	}

	p.printf("\nTRANSCRIPTION COMPLETE")
	return nil
}

// utteranceLines formats segments for the transcript file, echoing each as a
// [TEXT] progress line for the front-end's live view.
func (p *Pipeline) utteranceLines(segs []backend.Segment) []string {
	lines := make([]string, 0, len(segs))
	for _, s := range segs {
		lines = append(lines, transcript.FormatLine(s))
		p.printf("[TEXT] %.2f|%.2f|%s", s.Start, s.End, strings.TrimSpace(s.Text))
	}
	return lines
}

func fullFileOptions(useVAD bool) backend.SpeechOptions {
	opts := backend.SpeechOptions{VADFilter: useVAD, BeamSize: transcribeBeamSize}
	if useVAD {
		opts.MinSilenceMS = minSilenceMS
	}
	return opts
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
