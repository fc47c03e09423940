// Package transcript reads and writes transcript text files. A transcript is
// one or more sections, each a header line, a Source line, then one line per
// utterance. Windowed transcription appends sections so several windows of the
// same recording share a file; whole-file transcription owns the file and
// overwrites it.
package transcript

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

// Suffix marks transcript files on disk, as in "talk_transcript_large_v3.txt".
const Suffix = "_transcript"

var tagSanitizer = strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_")

// SafeModelTag converts a model name into a filename-safe tag.
func SafeModelTag(model string) string {
	return tagSanitizer.Replace(model)
}

// OutputPath returns the transcript path for a media file. With an output
// directory the transcript lands there under the media file's base name;
// otherwise it sits next to the source.
func OutputPath(mediaPath, outputDir, model string) string {
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	name := base + Suffix + "_" + SafeModelTag(model) + ".txt"
	if outputDir != "" {
		return filepath.Join(outputDir, name)
	}
	return filepath.Join(filepath.Dir(mediaPath), name)
}

// FormatLine renders one utterance line.
func FormatLine(seg backend.Segment) string {
	return fmt.Sprintf("[%.2f - %.2f] %s", seg.Start, seg.End, strings.TrimSpace(seg.Text))
}

// AppendSection appends a windowed-transcription section. The file is created
// on first use; later windows of the same recording accumulate below.
func AppendSection(outPath, sourcePath string, win backend.Window, lines []string) error {
	header := fmt.Sprintf("--- Transcription [%.1fs - %.1fs] ---", win.Start, win.End)
	return writeSection(outPath, sourcePath, header, lines, true)
}

// WriteFull overwrites the transcript with a single whole-file section.
func WriteFull(outPath, sourcePath string, duration float64, lines []string) error {
	header := fmt.Sprintf("--- Full Transcription (%.1fs) ---", duration)
	return writeSection(outPath, sourcePath, header, lines, false)
}

// WriteNamed overwrites the transcript with a whole-file section whose header
// records the model that produced it.
func WriteNamed(outPath, sourcePath, model string, duration float64, lines []string) error {
	header := fmt.Sprintf("--- Transcription (%s, %.1fs) ---", model, duration)
	return writeSection(outPath, sourcePath, header, lines, false)
}

func writeSection(outPath, sourcePath, header string, lines []string, appendMode bool) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return apperr.Wrap(err, apperr.CodeFileProcessing, "create transcript dir")
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(outPath, flags, 0o644)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeFileProcessing, "open transcript")
	}

	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		abs = sourcePath
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, header)
	fmt.Fprintf(w, "Source: %s\n", abs)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if appendMode {
		fmt.Fprintln(w) // blank line between sections
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return apperr.Wrap(err, apperr.CodeFileProcessing, "write transcript")
	}
	if err := f.Close(); err != nil {
		return apperr.Wrap(err, apperr.CodeFileProcessing, "close transcript")
	}
	return nil
}

// IsTranscript reports whether a file name looks like a transcript.
func IsTranscript(name string) bool {
	return strings.Contains(name, Suffix) && strings.HasSuffix(name, ".txt")
}

// Collect walks the given roots and returns every transcript file as a sorted,
// deduplicated list of absolute paths. Unreadable roots are skipped.
func Collect(roots ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !IsTranscript(info.Name()) {
				return nil
			}
			abs, aerr := filepath.Abs(path)
			if aerr != nil {
				return nil
			}
			if _, ok := seen[abs]; !ok {
				seen[abs] = struct{}{}
				out = append(out, abs)
			}
			return nil
		})
	}
	sort.Strings(out)
	return out
}

// ContentLines returns the utterance lines of a transcript, with section
// headers, Source lines, and blanks stripped.
func ContentLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTranscriptMissing, "read transcript")
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "Source:") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// Content returns the utterance lines joined as one text block, for feeding
// to analysis prompts.
func Content(path string) (string, error) {
	lines, err := ContentLines(path)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
