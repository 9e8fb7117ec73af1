//go:build unix

package testfs

import (
	"path/filepath"
	"testing"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides integration test infrastructure using t.TempDir().
//
// Each Root of the given tree becomes a directory under one temporary base
// directory. All roots share a filesystem, so cross-device behavior is out of
// reach here.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Roots: []testfs.Root{
//	        {Dir: "a", Files: []testfs.File{{Path: []string{"x"}, Chunks: []testfs.Chunk{{Pattern: 'X', Size: "100"}}}}},
//	        {Dir: "b", Files: []testfs.File{{Path: []string{"y"}, Chunks: []testfs.Chunk{{Pattern: 'X', Size: "100"}}}}},
//	    },
//	}
//	h := testfs.New(t, given)
//	report, err := finder.Find(ctx, finder.Options{Paths: h.Roots(), ...}, nil)
//	// ... plan and reap
//	h.Assert(testfs.FileTree{Roots: []testfs.Root{{Dir: "b", Absent: []string{"y"}}}})
type Harness struct {
	t     testing.TB
	base  string   // Temporary directory holding every root
	given FileTree // Tree the harness was built from
}

// New creates a new Harness with the given FileTree specification.
//
// The harness:
//  1. Creates a temporary directory via t.TempDir()
//  2. Creates a subdirectory for each Root's Dir
//  3. Creates files, hardlinks, symlinks and mtimes from the given tree
func New(t testing.TB, given FileTree) *Harness {
	t.Helper()

	base := t.TempDir()
	h := &Harness{
		t:     t,
		base:  base,
		given: given,
	}

	if err := Sow(base, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Base returns the temporary directory holding all roots.
func (h *Harness) Base() string {
	return h.base
}

// Roots returns the absolute path of every given root, in order.
func (h *Harness) Roots() []string {
	roots := make([]string, len(h.given.Roots))
	for i, r := range h.given.Roots {
		roots[i] = filepath.Join(h.base, r.Dir)
	}
	return roots
}

// Path returns the absolute path of rel inside root dir.
func (h *Harness) Path(dir, rel string) string {
	return filepath.Join(h.base, dir, rel)
}

// Assert verifies the filesystem state matches the expected FileTree.
// Only roots named in expected are checked.
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	for _, root := range expected.Roots {
		h.assertState(root)
	}
}

// assertState verifies files, symlinks and absent paths for a single root.
func (h *Harness) assertState(root Root) {
	h.t.Helper()

	actual, err := Capture(h.base, []string{root.Dir})
	if err != nil {
		h.t.Fatalf("capture %s: %v", root.Dir, err)
	}
	if len(actual.Roots) == 0 {
		h.t.Fatalf("capture returned no roots for %s", root.Dir)
	}

	AssertRoot(h.t, root, actual.Roots[0])
}
