package search

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/longscribe/engine/internal/backend"
)

func writeTranscript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

func TestKeywordRanksByWordHits(t *testing.T) {
	dir := t.TempDir()
	both := writeTranscript(t, dir, "a_transcript.txt",
		"[0.00 - 5.00] the budget meeting starts now\n[5.00 - 9.00] budget review\n")
	one := writeTranscript(t, dir, "b_transcript.txt",
		"[0.00 - 5.00] a quick meeting\n")
	writeTranscript(t, dir, "c_transcript.txt",
		"[0.00 - 5.00] nothing relevant\n")

	var buf bytes.Buffer
	results := Keyword(dir, "Budget Meeting", &buf)

	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].File != both || results[0].Score != 2 {
		t.Errorf("best match = %+v", results[0])
	}
	if results[1].File != one || results[1].Score != 1 {
		t.Errorf("second match = %+v", results[1])
	}
	if results[0].Matches != 2 || len(results[0].Lines) != 2 {
		t.Errorf("lines = %+v", results[0])
	}
	if results[0].Lines[0].Num != 1 {
		t.Errorf("line numbers must be 1-based: %+v", results[0].Lines[0])
	}

	out := buf.String()
	if !strings.Contains(out, "[SEARCH] Found 2 matching files") {
		t.Errorf("missing summary:\n%s", out)
	}
	if !strings.Contains(out, "[RESULT] 1. [2/2 words] "+both) {
		t.Errorf("missing result line:\n%s", out)
	}
}

func TestKeywordCapsLinesPerFile(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		sb.WriteString("[0.00 - 1.00] meeting again\n")
	}
	writeTranscript(t, dir, "a_transcript.txt", sb.String())

	var buf bytes.Buffer
	results := Keyword(dir, "meeting", &buf)
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Matches != 25 {
		t.Errorf("matches = %d", results[0].Matches)
	}
	if len(results[0].Lines) != MaxLinesPerFile {
		t.Errorf("lines = %d, want cap of %d", len(results[0].Lines), MaxLinesPerFile)
	}
}

type fakeEmbedder struct {
	matches []backend.Match
	query   string
	chunks  []string
}

func (f *fakeEmbedder) Rank(ctx context.Context, query string, chunks []string) ([]backend.Match, error) {
	f.query = query
	f.chunks = chunks
	return f.matches, nil
}

func TestSemantic(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "a_transcript_large_v3.txt",
		"--- Transcription [0.0s - 15.0s] ---\nSource: /m/a.mp4\n[0.00 - 5.00] planning the trip\n[5.00 - 9.00] weather talk\n")

	embed := &fakeEmbedder{matches: []backend.Match{
		{Index: 1, Score: 0.91234},
		{Index: 0, Score: 0.4},
	}}

	var buf bytes.Buffer
	results, err := Semantic(context.Background(), embed, "vacation", &buf, dir)
	if err != nil {
		t.Fatal(err)
	}

	// Headers and Source lines must not become chunks.
	if len(embed.chunks) != 2 {
		t.Fatalf("chunks = %v", embed.chunks)
	}
	if embed.query != "vacation" {
		t.Errorf("query = %q", embed.query)
	}

	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Snippet != "[5.00 - 9.00] weather talk" {
		t.Errorf("top result = %+v", results[0])
	}
	if results[0].Score != 0.9123 {
		t.Errorf("score not rounded: %v", results[0].Score)
	}
	if results[0].FullPath != path || results[0].File != filepath.Base(path) {
		t.Errorf("paths = %+v", results[0])
	}

	if !strings.Contains(buf.String(), "[SEMANTIC] Encoding 2 chunks...") {
		t.Errorf("missing progress:\n%s", buf.String())
	}
}

func TestSemanticSkipsOutOfRangeIndices(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "a_transcript.txt",
		"[0.00 - 5.00] planning the trip\n[5.00 - 9.00] weather talk\n")

	embed := &fakeEmbedder{matches: []backend.Match{
		{Index: 7, Score: 0.95},
		{Index: -1, Score: 0.9},
		{Index: 0, Score: 0.8},
	}}

	var buf bytes.Buffer
	results, err := Semantic(context.Background(), embed, "trip", &buf, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Snippet != "[0.00 - 5.00] planning the trip" {
		t.Fatalf("results = %+v", results)
	}
	if !strings.Contains(buf.String(), "[ERROR] Ranker returned chunk 7 of 2") {
		t.Errorf("bad index not reported:\n%s", buf.String())
	}
}

func TestSnippetPreviewRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", 98) + "héllo"
	got := snippetPreview(s)
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid UTF-8: %q", got)
	}
	if len(got) != 99 {
		t.Errorf("preview = %d bytes, want cut before the split rune", len(got))
	}
	if short := "short"; snippetPreview(short) != short {
		t.Errorf("short snippets must pass through unchanged")
	}
}

func TestSemanticNoTranscripts(t *testing.T) {
	var buf bytes.Buffer
	results, err := Semantic(context.Background(), &fakeEmbedder{}, "q", &buf, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if results != nil {
		t.Errorf("expected no results, got %+v", results)
	}
}
