package media

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	apperr "github.com/longscribe/engine/internal/errors"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))
	touch(t, filepath.Join(dir, "b.txt"))
	touch(t, filepath.Join(dir, "c.MKV"))

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 media files, got %v", files)
	}
	if filepath.Base(files[0]) != "a.mp4" || filepath.Base(files[1]) != "c.MKV" {
		t.Errorf("unexpected files or order: %v", files)
	}
	for _, f := range files {
		if !filepath.IsAbs(f) {
			t.Errorf("path not absolute: %s", f)
		}
	}
}

func TestDiscoverRecursesAndOrdersDeterministically(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dir, "z.wav"))
	touch(t, filepath.Join(sub, "a.mp3"))

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if !sort.StringsAreSorted(files) {
		t.Errorf("files not lexicographically sorted: %v", files)
	}
}

func TestDiscoverFollowsSymlinkedDirs(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(real, "clip.mov"))

	root := t.TempDir()
	link := filepath.Join(root, "linked")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "clip.mov" {
		t.Errorf("symlinked dir not followed: %v", files)
	}
}

func TestDiscoverSymlinkCycle(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))
	if err := os.Symlink(dir, filepath.Join(dir, "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("cycle guard failed, got %v", files)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if !apperr.IsCode(err, apperr.CodeDiscoveryFailed) {
		t.Errorf("expected DISCOVERY_FAILED, got %v", err)
	}
}

func TestIsMedia(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"a.mp4", true},
		{"A.MP4", true},
		{"b.txt", false},
		{"noext", false},
		{"c.mpeg", true},
		{"d.ts", true},
	}
	for _, tc := range cases {
		if got := IsMedia(tc.path); got != tc.want {
			t.Errorf("IsMedia(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestFrameTimes(t *testing.T) {
	single := FrameTimes(100, 1)
	if len(single) != 1 || single[0] != 50 {
		t.Errorf("single frame should sample the middle, got %v", single)
	}

	pair := FrameTimes(100, 2)
	if len(pair) != 2 || pair[0] != 2.0 || pair[1] != 98.0 {
		t.Errorf("pair should avoid edges, got %v", pair)
	}

	five := FrameTimes(100, 5)
	if len(five) != 5 {
		t.Fatalf("expected 5 times, got %v", five)
	}
	if five[0] != 1.0 || five[4] != 99.0 {
		t.Errorf("edge avoidance wrong: %v", five)
	}
	for i := 1; i < len(five); i++ {
		if five[i] <= five[i-1] {
			t.Errorf("times not increasing: %v", five)
		}
	}
}
