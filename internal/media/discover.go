package media

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperr "github.com/longscribe/engine/internal/errors"
)

// extensions is the fixed allow-list of audio/video suffixes, matched
// case-insensitively on the path suffix.
var extensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".avi": {}, ".mov": {}, ".wav": {}, ".mp3": {},
	".flac": {}, ".m4a": {}, ".webm": {}, ".aac": {}, ".wma": {}, ".ogg": {},
	".m4v": {}, ".3gp": {}, ".ts": {}, ".mpg": {}, ".mpeg": {},
}

// IsMedia reports whether path carries an allow-listed media extension.
func IsMedia(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Discover recursively lists media files under root, following symlinked
// directories, and returns absolute paths in lexicographic order. The
// ordering is deterministic so batch numbering is reproducible across runs.
//
// An unreadable or missing root returns a DISCOVERY_FAILED error; callers
// treat that as zero files found rather than aborting the batch. Unreadable
// subdirectories are skipped.
func Discover(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeDiscoveryFailed, "resolve root %q", root)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeDiscoveryFailed, "stat root %q", abs)
	}
	if !info.IsDir() {
		return nil, apperr.Newf(apperr.CodeDiscoveryFailed, "root %q is not a directory", abs)
	}

	var files []string
	visited := map[string]struct{}{}
	walk(abs, visited, &files)

	sort.Strings(files)
	return files, nil
}

// walk recurses through dir collecting media files. Symlinked directories are
// followed; visited tracks resolved paths to guard against symlink cycles.
func walk(dir string, visited map[string]struct{}, files *[]string) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	if _, seen := visited[resolved]; seen {
		return
	}
	visited[resolved] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("skipping unreadable directory", "dir", dir, "error", err)
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			walk(path, visited, files)
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				continue
			}
			if target.IsDir() {
				walk(path, visited, files)
				continue
			}
		}
		if IsMedia(entry.Name()) {
			*files = append(*files, path)
		}
	}
}
