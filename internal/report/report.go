// Package report persists the outcome of a batch scan as a JSON document
// keyed by file path, supporting load-merge-resume across interrupted runs.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/longscribe/engine/internal/cluster"
	apperr "github.com/longscribe/engine/internal/errors"
)

// DefaultFileName is the report written next to the working directory when
// no explicit path is given.
const DefaultFileName = "voice_scan_results.json"

// Entry is one per-file scan outcome. Exactly one of Blocks or Err is
// meaningful: a failure carries Err only; a success carries the scan fields,
// where a zero duration with no blocks denotes "scanned, no voice detected".
type Entry struct {
	File              string          `json:"file"`
	DurationSec       float64         `json:"duration_sec"`
	SegmentsFound     int             `json:"segments_found"`
	SpeechDurationSec *float64        `json:"speech_duration_sec,omitempty"`
	Blocks            []cluster.Block `json:"blocks"`
	TranscribeCmds    []string        `json:"transcribe_cmds,omitempty"`
	Err               string          `json:"error,omitempty"`
}

// Failed reports whether the entry records a per-file error.
func (e Entry) Failed() bool { return e.Err != "" }

// HasVoice reports whether the entry found any speech.
func (e Entry) HasVoice() bool { return !e.Failed() && e.SegmentsFound > 0 }

// MarshalJSON keeps failure entries down to {file, error} and guarantees
// success entries serialize blocks as [] rather than null.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Failed() {
		return json.Marshal(struct {
			File string `json:"file"`
			Err  string `json:"error"`
		}{e.File, e.Err})
	}

	// transcribe_cmds is present-but-empty for voiced entries with no
	// commands, and absent entirely for silent ones; a plain omitempty
	// slice cannot tell those apart, hence the pointer.
	type success struct {
		File              string          `json:"file"`
		DurationSec       float64         `json:"duration_sec"`
		SegmentsFound     int             `json:"segments_found"`
		SpeechDurationSec *float64        `json:"speech_duration_sec,omitempty"`
		Blocks            []cluster.Block `json:"blocks"`
		TranscribeCmds    *[]string       `json:"transcribe_cmds,omitempty"`
	}
	s := success{
		File:              e.File,
		DurationSec:       e.DurationSec,
		SegmentsFound:     e.SegmentsFound,
		SpeechDurationSec: e.SpeechDurationSec,
		Blocks:            e.Blocks,
	}
	if e.TranscribeCmds != nil {
		s.TranscribeCmds = &e.TranscribeCmds
	}
	if s.Blocks == nil {
		s.Blocks = []cluster.Block{}
	}
	return json.Marshal(s)
}

// Report is the persisted record of one batch scan run.
type Report struct {
	Date           string   `json:"date"`
	Directory      string   `json:"directory"`
	TotalFiles     int      `json:"total_files"`
	FilesWithVoice int      `json:"files_with_voice"`
	Results        []Entry  `json:"results"`
	ScanModel      string   `json:"scan_model"`
	VADThreshold   *float64 `json:"vad_threshold,omitempty"`
}

// New creates an empty report stamped with the current time.
func New(directory, scanModel string) *Report {
	return &Report{
		Date:      time.Now().Format(time.RFC3339),
		Directory: directory,
		ScanModel: scanModel,
		Results:   []Entry{},
	}
}

// Append records an entry and updates the voice counter.
func (r *Report) Append(e Entry) {
	r.Results = append(r.Results, e)
	if e.HasVoice() {
		r.FilesWithVoice++
	}
}

// Index returns the results keyed by file path for resume lookups.
func (r *Report) Index() map[string]Entry {
	idx := make(map[string]Entry, len(r.Results))
	for _, e := range r.Results {
		if e.File != "" {
			idx[e.File] = e
		}
	}
	return idx
}

// Load reads a report from disk. A missing file yields REPORT_NOT_FOUND.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.CodeReportNotFound, "report not found: %s", path)
		}
		return nil, apperr.Wrapf(err, apperr.CodeUnknown, "read report %s", path)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeUnknown, "parse report %s", path)
	}
	return &r, nil
}

// Save writes the full report, replacing any previous one at path. The write
// is atomic: a temp file in the same directory is renamed over the target so
// an interrupted save never leaves a half-written report.
func (r *Report) Save(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeUnknown, "resolve report path %q", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return apperr.Wrapf(err, apperr.CodeUnknown, "create report dir for %q", abs)
	}

	if r.Results == nil {
		r.Results = []Entry{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.CodeUnknown, "encode report")
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".report-*.tmp")
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeUnknown, "create temp report in %q", filepath.Dir(abs))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Wrapf(err, apperr.CodeUnknown, "write temp report %q", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrapf(err, apperr.CodeUnknown, "close temp report %q", tmpName)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return apperr.Wrapf(err, apperr.CodeUnknown, "replace report %q", abs)
	}
	return nil
}
