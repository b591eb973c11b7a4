package vfs

import (
	"path/filepath"
	"strings"
	"testing"
)

// FuzzCleanPath checks that cleaned paths are absolute, clean, bounded, and
// that host resolution never admits a path outside the root.
func FuzzCleanPath(f *testing.F) {
	for _, seed := range []string{"a.txt", "../x", "/etc/passwd", "a/../../b", "./", "file:///tmp/x", "a\x00b", "//double//slash"} {
		f.Add(seed)
	}

	root := f.TempDir()
	fsys, err := New(root, Options{HostFallback: true})
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, p string) {
		clean, err := fsys.Clean(p)
		if err != nil {
			return
		}
		if !filepath.IsAbs(clean) || filepath.Clean(clean) != clean {
			t.Fatalf("Clean(%q) = %q is not absolute and clean", p, clean)
		}
		if len(clean) > MaxPathLength {
			t.Fatalf("Clean(%q) exceeds limit", p)
		}
		if resolved, err := fsys.resolveHost(clean); err == nil && !within(fsys.Root(), resolved) {
			t.Fatalf("resolveHost(%q) = %q escapes %q", clean, resolved, fsys.Root())
		}
		if strings.ContainsRune(clean, 0) {
			t.Fatalf("Clean(%q) kept a NUL byte", p)
		}
	})
}
