// Package search finds passages in transcript files, either by keyword hits
// or by embedding similarity against a query.
package search

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/longscribe/engine/internal/backend"
	"github.com/longscribe/engine/internal/transcript"
)

// MaxLinesPerFile caps keyword match lines reported per transcript.
const MaxLinesPerFile = 10

// resultPreview caps how many semantic matches are echoed as progress lines.
const resultPreview = 20

// MatchLine is one matching transcript line.
type MatchLine struct {
	Num  int    `json:"num"`
	Text string `json:"text"`
}

// KeywordMatch is one transcript file ranked by how many query words it
// contains.
type KeywordMatch struct {
	File       string      `json:"file"`
	Score      int         `json:"score"`
	TotalWords int         `json:"total_words"`
	Matches    int         `json:"matches"`
	Lines      []MatchLine `json:"lines"`
}

// Keyword searches every transcript under root for the query's words and
// returns files ranked by distinct word hits, best first. Unreadable files
// are reported and skipped.
func Keyword(root, query string, out io.Writer) []KeywordMatch {
	words := strings.Fields(strings.ToLower(query))
	files := transcript.Collect(root)
	fmt.Fprintf(out, "[SEARCH] Searching %d transcript files for: %s\n", len(files), query)

	var results []KeywordMatch
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(out, "[ERROR] %s: %v\n", path, err)
			continue
		}
		content := strings.ToLower(string(data))

		score := 0
		for _, w := range words {
			if strings.Contains(content, w) {
				score++
			}
		}
		if score == 0 {
			continue
		}

		var lines []MatchLine
		total := 0
		for num, line := range strings.Split(string(data), "\n") {
			lower := strings.ToLower(line)
			hit := false
			for _, w := range words {
				if strings.Contains(lower, w) {
					hit = true
					break
				}
			}
			if hit {
				total++
				if len(lines) < MaxLinesPerFile {
					lines = append(lines, MatchLine{Num: num + 1, Text: strings.TrimSpace(line)})
				}
			}
		}

		results = append(results, KeywordMatch{
			File:       path,
			Score:      score,
			TotalWords: len(words),
			Matches:    total,
			Lines:      lines,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	fmt.Fprintf(out, "\n[SEARCH] Found %d matching files\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(out, "[RESULT] %d. [%d/%d words] %s\n", i+1, r.Score, r.TotalWords, r.File)
		for _, l := range r.Lines {
			fmt.Fprintf(out, "  L%d: %s\n", l.Num, l.Text)
		}
		fmt.Fprintln(out)
	}
	return results
}

// SemanticMatch is one transcript line ranked by embedding similarity.
type SemanticMatch struct {
	File     string  `json:"file"`
	FullPath string  `json:"full_path"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}

// Semantic ranks transcript utterance lines against the query by embedding
// similarity. Chunks are individual timestamped lines; each match carries its
// source file and similarity score.
func Semantic(ctx context.Context, embed backend.Embedder, query string, out io.Writer, roots ...string) ([]SemanticMatch, error) {
	files := transcript.Collect(roots...)
	fmt.Fprintf(out, "[SEMANTIC] Found %d transcript files\n", len(files))
	if len(files) == 0 {
		return nil, nil
	}

	type chunk struct {
		path string
		line string
	}
	var chunks []chunk
	for _, path := range files {
		lines, err := transcript.ContentLines(path)
		if err != nil {
			continue
		}
		for _, line := range lines {
			chunks = append(chunks, chunk{path: path, line: line})
		}
	}
	if len(chunks) == 0 {
		fmt.Fprintln(out, "[SEMANTIC] No content found in transcripts")
		return nil, nil
	}

	fmt.Fprintf(out, "[SEMANTIC] Encoding %d chunks...\n", len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.line
	}

	matches, err := embed.Rank(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	results := make([]SemanticMatch, 0, len(matches))
	for _, m := range matches {
		// The index comes off the wire; a backend bug must not take the
		// command loop down with it.
		if m.Index < 0 || m.Index >= len(chunks) {
			fmt.Fprintf(out, "[ERROR] Ranker returned chunk %d of %d, skipping\n", m.Index, len(chunks))
			continue
		}
		c := chunks[m.Index]
		results = append(results, SemanticMatch{
			File:     filepath.Base(c.path),
			FullPath: c.path,
			Score:    round4(m.Score),
			Snippet:  c.line,
		})
	}

	fmt.Fprintf(out, "[SEMANTIC] Found %d relevant matches\n", len(results))
	for i, r := range results {
		if i == resultPreview {
			break
		}
		fmt.Fprintf(out, "[RESULT] %d. [%.2f] %s: %s\n", i+1, r.Score, r.File, snippetPreview(r.Snippet))
	}
	return results, nil
}

func snippetPreview(s string) string {
	if len(s) <= 100 {
		return s
	}
	cut := 100
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
