package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/longscribe/engine/internal/backend"
	"github.com/longscribe/engine/internal/cluster"
	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/report"
)

type fakeSpeech struct {
	segments map[string][]backend.Segment
	duration map[string]float64
	fail     map[string]error
	calls    []string
	loads    []string
}

func (f *fakeSpeech) Engine(ctx context.Context, model string) (backend.SpeechEngine, error) {
	f.loads = append(f.loads, model)
	return f, nil
}

func (f *fakeSpeech) Transcribe(ctx context.Context, path string, opts backend.SpeechOptions) (*backend.SpeechResult, error) {
	f.calls = append(f.calls, path)
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	return &backend.SpeechResult{
		Segments: f.segments[path],
		Duration: f.duration[path],
	}, nil
}

type fakeVAD struct {
	spans map[string][]backend.Span
	fail  map[string]error
}

func (f *fakeVAD) Engine(ctx context.Context) (backend.VADEngine, error) { return f, nil }

func (f *fakeVAD) Detect(ctx context.Context, pcm []byte, sampleRate int, threshold float64) ([]backend.Span, error) {
	key := string(pcm)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.spans[key], nil
}

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

func newTestPipeline(speech backend.SpeechProvider, vad backend.VADProvider) (*Pipeline, *bytes.Buffer) {
	var buf bytes.Buffer
	p := New(speech, vad, &buf)
	return p, &buf
}

func TestBatchScanWritesReport(t *testing.T) {
	dir := t.TempDir()
	voiced := touch(t, filepath.Join(dir, "a.mp4"))
	broken := touch(t, filepath.Join(dir, "b.mp4"))
	touch(t, filepath.Join(dir, "notes.txt")) // not media

	speech := &fakeSpeech{
		segments: map[string][]backend.Segment{
			voiced: {{Start: 0, End: 5, Text: "hi"}, {Start: 10, End: 15, Text: "there"}, {Start: 400, End: 410, Text: "late"}},
		},
		duration: map[string]float64{voiced: 500},
		fail:     map[string]error{broken: errors.New("decode failed")},
	}
	p, buf := newTestPipeline(speech, nil)

	reportPath := filepath.Join(dir, "out", "report.json")
	rep, err := p.BatchScan(context.Background(), ScanOptions{
		Directory:  dir,
		UseVAD:     true,
		ReportPath: reportPath,
	})
	if err != nil {
		t.Fatalf("batch scan: %v", err)
	}

	if rep.TotalFiles != 2 {
		t.Errorf("total_files = %d", rep.TotalFiles)
	}
	if rep.FilesWithVoice != 1 {
		t.Errorf("files_with_voice = %d", rep.FilesWithVoice)
	}
	if rep.ScanModel != ScanModel {
		t.Errorf("scan_model = %q", rep.ScanModel)
	}

	idx := rep.Index()
	entry := idx[voiced]
	if len(entry.Blocks) != 2 {
		t.Fatalf("blocks = %+v", entry.Blocks)
	}
	if entry.Blocks[0].Start != 0 || entry.Blocks[0].End != 15 {
		t.Errorf("first block = %+v", entry.Blocks[0])
	}
	if len(entry.TranscribeCmds) != 2 {
		t.Errorf("transcribe_cmds = %v", entry.TranscribeCmds)
	} else if want := fmt.Sprintf("engine transcribe %q --start 0.0 --end 15.0", voiced); entry.TranscribeCmds[0] != want {
		t.Errorf("transcribe_cmds[0] = %q, want %q", entry.TranscribeCmds[0], want)
	}
	if !idx[broken].Failed() {
		t.Errorf("expected error entry for %s", broken)
	}

	if _, err := report.Load(reportPath); err != nil {
		t.Fatalf("report not saved: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"[BATCH] Found 2 media files", "[VOICE] 0.0s - 15.0s", "[ERROR] decode failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress missing %q:\n%s", want, out)
		}
	}
}

func TestBatchScanSkipExistingReplaysCleanEntries(t *testing.T) {
	dir := t.TempDir()
	scanned := touch(t, filepath.Join(dir, "a.mp4"))
	fresh := touch(t, filepath.Join(dir, "b.mp4"))

	reportPath := filepath.Join(dir, "report.json")
	prev := report.New(dir, ScanModel)
	prev.TotalFiles = 1
	prev.Append(report.Entry{File: scanned, DurationSec: 100, SegmentsFound: 2, Blocks: []cluster.Block{{Start: 0, End: 50}}})
	if err := prev.Save(reportPath); err != nil {
		t.Fatal(err)
	}

	speech := &fakeSpeech{
		segments: map[string][]backend.Segment{fresh: {{Start: 0, End: 1, Text: "new"}}},
		duration: map[string]float64{fresh: 10},
	}
	p, buf := newTestPipeline(speech, nil)

	rep, err := p.BatchScan(context.Background(), ScanOptions{
		Directory:    dir,
		ReportPath:   reportPath,
		SkipExisting: true,
	})
	if err != nil {
		t.Fatalf("batch scan: %v", err)
	}

	for _, path := range speech.calls {
		if path == scanned {
			t.Errorf("previously scanned file was rescanned")
		}
	}
	idx := rep.Index()
	if idx[scanned].SegmentsFound != 2 {
		t.Errorf("replayed entry lost: %+v", idx[scanned])
	}
	if rep.FilesWithVoice != 2 {
		t.Errorf("files_with_voice = %d", rep.FilesWithVoice)
	}
	if !strings.Contains(buf.String(), "Skipping (already scanned)") {
		t.Errorf("missing skip line:\n%s", buf.String())
	}
}

func TestVADScan(t *testing.T) {
	dir := t.TempDir()
	voiced := touch(t, filepath.Join(dir, "a.wav"))
	silent := touch(t, filepath.Join(dir, "b.wav"))

	pcmFor := map[string]string{voiced: "pcm-a", silent: "pcm-b"}
	vad := &fakeVAD{
		spans: map[string][]backend.Span{
			"pcm-a": {{Start: 1.234, End: 3.456}, {Start: 10, End: 12}},
			"pcm-b": nil,
		},
	}
	p, buf := newTestPipeline(nil, vad)
	p.ExtractPCM = func(ctx context.Context, path string) ([]byte, float64, error) {
		return []byte(pcmFor[path]), 60, nil
	}

	reportPath := filepath.Join(dir, "report.json")
	rep, err := p.VADScan(context.Background(), VADScanOptions{
		Directory:  dir,
		Threshold:  0.4,
		ReportPath: reportPath,
	})
	if err != nil {
		t.Fatalf("vad scan: %v", err)
	}

	if rep.ScanModel != VADScanModel {
		t.Errorf("scan_model = %q", rep.ScanModel)
	}
	if rep.VADThreshold == nil || *rep.VADThreshold != 0.4 {
		t.Errorf("vad_threshold = %v", rep.VADThreshold)
	}

	idx := rep.Index()
	entry := idx[voiced]
	if entry.SegmentsFound != 2 {
		t.Fatalf("segments_found = %d", entry.SegmentsFound)
	}
	if entry.Blocks[0].Start != 1.23 || entry.Blocks[0].End != 3.46 {
		t.Errorf("span rounding: %+v", entry.Blocks[0])
	}
	if entry.SpeechDurationSec == nil || *entry.SpeechDurationSec != 4.2 {
		t.Errorf("speech_duration_sec = %v", entry.SpeechDurationSec)
	}

	silentEntry := idx[silent]
	if silentEntry.SegmentsFound != 0 || silentEntry.SpeechDurationSec == nil || *silentEntry.SpeechDurationSec != 0 {
		t.Errorf("silent entry = %+v", silentEntry)
	}

	if !strings.Contains(buf.String(), "[VAD-SCAN] Complete: 1/2 files with voice") {
		t.Errorf("missing completion line:\n%s", buf.String())
	}
}

func TestScanFilePrintsBlocks(t *testing.T) {
	speech := &fakeSpeech{
		segments: map[string][]backend.Segment{
			"/m/a.mp4": {{Start: 0, End: 5}, {Start: 400, End: 410}},
		},
	}
	p, buf := newTestPipeline(speech, nil)

	if err := p.ScanFile(context.Background(), "/m/a.mp4", true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "[BLOCK] 0.0|5.0") || !strings.Contains(out, "[BLOCK] 400.0|410.0") {
		t.Errorf("missing block lines:\n%s", out)
	}
}

func TestFloatText(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{15, "15.0"},
		{12.34, "12.34"},
		{12.3, "12.3"},
	}
	for _, c := range cases {
		if got := floatText(c.in); got != c.want {
			t.Errorf("floatText(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestScanFileSilent(t *testing.T) {
	speech := &fakeSpeech{}
	p, buf := newTestPipeline(speech, nil)
	if err := p.ScanFile(context.Background(), "/m/quiet.mp4", false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[INFO] No speech detected.") {
		t.Errorf("missing silence line:\n%s", buf.String())
	}
}

func TestTranscribeFromReportMissing(t *testing.T) {
	p, _ := newTestPipeline(&fakeSpeech{}, nil)
	err := p.TranscribeFromReport(context.Background(), ReportOptions{
		ReportPath: filepath.Join(t.TempDir(), "nope.json"),
	})
	if !apperr.IsCode(err, apperr.CodeReportNotFound) {
		t.Fatalf("expected report-not-found, got %v", err)
	}
}
