// Package pipeline orchestrates batch operations over media trees: voice
// scans that produce a resumable report, and transcription passes driven by
// that report or by whole files. One pipeline runs one operation at a time;
// per-file failures are recorded and the batch keeps going.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/longscribe/engine/internal/backend"
	"github.com/longscribe/engine/internal/cluster"
	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/media"
	"github.com/longscribe/engine/internal/report"
)

const (
	// ScanModel is the fast low-accuracy pass used by voice scans.
	ScanModel = "tiny.en"

	// VADScanModel tags VAD-only report entries.
	VADScanModel = "silero-vad"

	// DefaultTranscribeModel is the high-accuracy default for windowed and
	// single-file transcription.
	DefaultTranscribeModel = "large-v3"

	// DefaultBatchModel is the default for whole-directory transcription.
	DefaultBatchModel = "large-v1"

	// DefaultVADThreshold is the voice-activity sensitivity cutoff.
	DefaultVADThreshold = 0.5

	scanBeamSize       = 1
	transcribeBeamSize = 5
	minSilenceMS       = 2000
)

// Pipeline wires backends to batch operations. Out receives the progress
// stream the front-end tails; it must not receive anything else.
type Pipeline struct {
	Speech backend.SpeechProvider
	VAD    backend.VADProvider
	Gap    float64 // cluster gap threshold in seconds
	Out    io.Writer
	Log    *slog.Logger

	// ExtractPCM decodes a media file to mono 16kHz samples for VAD scans.
	ExtractPCM func(ctx context.Context, path string) ([]byte, float64, error)
}

// New creates a pipeline with the standard gap threshold.
func New(speech backend.SpeechProvider, vad backend.VADProvider, out io.Writer) *Pipeline {
	return &Pipeline{
		Speech:     speech,
		VAD:        vad,
		Gap:        cluster.DefaultGapThreshold,
		Out:        out,
		Log:        slog.Default(),
		ExtractPCM: media.ExtractPCM,
	}
}

func (p *Pipeline) printf(format string, args ...any) {
	fmt.Fprintf(p.Out, format+"\n", args...)
}

// ScanFile runs the fast scan over one file and prints a [BLOCK] line per
// detected speech block.
func (p *Pipeline) ScanFile(ctx context.Context, path string, useVAD bool) error {
	p.printf("[STATUS] Scanning %s...", path)
	p.printf("[STATUS] VAD: %s", onOff(useVAD))

	engine, err := p.Speech.Engine(ctx, ScanModel)
	if err != nil {
		return err
	}
	result, err := engine.Transcribe(ctx, path, scanOptions(useVAD))
	if err != nil {
		return err
	}

	blocks, count := cluster.Cluster(toClusterSegments(result.Segments), p.Gap)
	for _, b := range blocks {
		p.printf("[BLOCK] %s|%s", floatText(b.Start), floatText(b.End))
	}
	if count == 0 {
		p.printf("[INFO] No speech detected.")
	}
	return nil
}

// ScanOptions configures a batch voice scan.
type ScanOptions struct {
	Directory    string
	UseVAD       bool
	ReportPath   string
	SkipExisting bool
	Model        string // scan model override; empty uses ScanModel
}

// BatchScan scans every media file under a directory with the fast model and
// writes a report of detected speech blocks. With SkipExisting, files already
// present in the report with a clean entry are replayed instead of rescanned.
func (p *Pipeline) BatchScan(ctx context.Context, opts ScanOptions) (*report.Report, error) {
	files, err := media.Discover(opts.Directory)
	if err != nil {
		// Unreadable roots scan as empty rather than failing the run.
		p.Log.Warn("discovery failed", "dir", opts.Directory, "error", err)
		files = nil
	}
	total := len(files)
	p.printf("[BATCH] Found %d media files in: %s", total, opts.Directory)
	p.printf("[BATCH] VAD: %s", onOffNoisy(opts.UseVAD))

	model := opts.Model
	if model == "" {
		model = ScanModel
	}
	p.printf("[BATCH] Loading %s model (one-time)...", model)
	engine, err := p.Speech.Engine(ctx, model)
	if err != nil {
		return nil, err
	}

	reportPath := opts.ReportPath
	if reportPath == "" {
		reportPath = report.DefaultFileName
	}
	prior := p.loadPrior(reportPath, opts.SkipExisting, "[BATCH]")

	rep := report.New(opts.Directory, model)
	rep.TotalFiles = total

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prev, ok := prior[path]; ok && !prev.Failed() {
			p.printf("\n[%d/%d] Skipping (already scanned): %s", i+1, total, path)
			rep.Append(prev)
			continue
		}

		p.printf("\n[%d/%d] Scanning: %s", i+1, total, path)

		result, err := engine.Transcribe(ctx, path, scanOptions(opts.UseVAD))
		if err != nil {
			p.printf("  [ERROR] %v", err)
			rep.Append(report.Entry{File: path, Err: err.Error()})
			continue
		}

		blocks, count := cluster.Cluster(toClusterSegments(result.Segments), p.Gap)
		if len(blocks) == 0 {
			p.printf("  [SILENT] No speech detected")
			rep.Append(report.Entry{File: path, Blocks: []cluster.Block{}})
			continue
		}

		entry := report.Entry{
			File:          path,
			DurationSec:   round1(result.Duration),
			SegmentsFound: count,
			Blocks:        blocks,
		}
		for _, b := range blocks {
			entry.TranscribeCmds = append(entry.TranscribeCmds,
				fmt.Sprintf("engine transcribe %q --start %s --end %s", path, floatText(b.Start), floatText(b.End)))
			p.printf("  [VOICE] %.1fs - %.1fs", b.Start, b.End)
		}
		rep.Append(entry)
	}

	if err := rep.Save(reportPath); err != nil {
		return nil, err
	}
	p.printSummary(rep)
	return rep, nil
}

// VADScanOptions configures a batch VAD-only scan.
type VADScanOptions struct {
	Directory    string
	Threshold    float64
	ReportPath   string
	SkipExisting bool
}

// VADScan scans every media file with the voice-activity backend alone. No
// transcription happens; report entries carry raw speech spans as blocks plus
// the total speech duration.
func (p *Pipeline) VADScan(ctx context.Context, opts VADScanOptions) (*report.Report, error) {
	files, err := media.Discover(opts.Directory)
	if err != nil {
		p.Log.Warn("discovery failed", "dir", opts.Directory, "error", err)
		files = nil
	}
	total := len(files)
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultVADThreshold
	}
	p.printf("[VAD-SCAN] Found %d media files in: %s", total, opts.Directory)
	p.printf("[VAD-SCAN] Sensitivity threshold: %g", threshold)

	engine, err := p.VAD.Engine(ctx)
	if err != nil {
		return nil, err
	}

	reportPath := opts.ReportPath
	if reportPath == "" {
		reportPath = report.DefaultFileName
	}
	prior := p.loadPrior(reportPath, opts.SkipExisting, "[VAD-SCAN]")

	rep := report.New(opts.Directory, VADScanModel)
	rep.TotalFiles = total
	rep.VADThreshold = &threshold

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prev, ok := prior[path]; ok && !prev.Failed() {
			p.printf("\n[%d/%d] Skipping (already scanned): %s", i+1, total, filepath.Base(path))
			rep.Append(prev)
			continue
		}

		p.printf("\n[%d/%d] VAD scanning: %s", i+1, total, filepath.Base(path))

		entry, err := p.vadScanFile(ctx, engine, path, threshold)
		if err != nil {
			p.printf("  [ERROR] %v", err)
			rep.Append(report.Entry{File: path, Err: err.Error()})
			continue
		}
		rep.Append(entry)
	}

	if err := rep.Save(reportPath); err != nil {
		return nil, err
	}
	p.printf("\n[VAD-SCAN] Complete: %d/%d files with voice", rep.FilesWithVoice, total)
	p.printf("[VAD-SCAN] Report saved to: %s", reportPath)
	return rep, nil
}

func (p *Pipeline) vadScanFile(ctx context.Context, engine backend.VADEngine, path string, threshold float64) (report.Entry, error) {
	pcm, duration, err := p.ExtractPCM(ctx, path)
	if err != nil {
		return report.Entry{}, err
	}

	spans, err := engine.Detect(ctx, pcm, media.PCMSampleRate, threshold)
	if err != nil {
		return report.Entry{}, err
	}

	speech := 0.0
	blocks := make([]cluster.Block, 0, len(spans))
	for _, s := range spans {
		speech += s.End - s.Start
		blocks = append(blocks, cluster.Block{Start: round2(s.Start), End: round2(s.End)})
	}
	speech = round1(speech)

	entry := report.Entry{
		File:              path,
		DurationSec:       round1(duration),
		SegmentsFound:     len(spans),
		SpeechDurationSec: &speech,
		Blocks:            blocks,
	}
	if len(spans) == 0 {
		p.printf("  [SILENT] No speech detected")
	} else {
		entry.TranscribeCmds = []string{}
		p.printf("  [VOICE] %d segments, %.1fs speech / %.1fs total", len(spans), speech, duration)
	}
	return entry, nil
}

// loadPrior returns the previous report's entries by file path when resuming;
// otherwise an empty map.
func (p *Pipeline) loadPrior(reportPath string, skipExisting bool, tag string) map[string]report.Entry {
	if !skipExisting {
		return nil
	}
	prev, err := report.Load(reportPath)
	if err != nil {
		if !apperr.IsCode(err, apperr.CodeReportNotFound) {
			p.printf("%s Failed to load existing report: %v", tag, err)
		}
		return nil
	}
	prior := prev.Index()
	p.printf("%s Loaded %d existing results for skipping.", tag, len(prior))
	return prior
}

func (p *Pipeline) printSummary(rep *report.Report) {
	voiced := false
	for _, r := range rep.Results {
		if !r.Failed() && len(r.Blocks) > 0 {
			if !voiced {
				p.printf("\n--- Files with Detected Voice ---")
				voiced = true
			}
			p.printf("\n  %s", r.File)
			for _, b := range r.Blocks {
				p.printf("    [%.1fs - %.1fs]", b.Start, b.End)
			}
			for _, cmd := range r.TranscribeCmds {
				p.printf("    > %s", cmd)
			}
		}
	}
}

func scanOptions(useVAD bool) backend.SpeechOptions {
	opts := backend.SpeechOptions{VADFilter: useVAD, BeamSize: scanBeamSize}
	if useVAD {
		opts.MinSilenceMS = minSilenceMS
	}
	return opts
}

func toClusterSegments(segs []backend.Segment) []cluster.Segment {
	out := make([]cluster.Segment, len(segs))
	for i, s := range segs {
		out[i] = cluster.Segment{Start: s.Start, End: s.End}
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func onOffNoisy(b bool) string {
	if b {
		return "ON"
	}
	return "OFF (outdoor/noisy mode)"
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// floatText renders a block boundary with at least one decimal, so whole
// seconds print as "15.0" rather than "15" in the progress stream.
func floatText(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
