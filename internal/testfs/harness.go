//go:build unix

package testfs

import (
	"os"
	"path/filepath"
	"testing"
)

// -----------------------------------------------------------------------------
// Harness - Test API
// -----------------------------------------------------------------------------

// Harness owns a sown tree in t.TempDir() and mutates it during a test.
//
// Usage:
//
//	h := testfs.New(t, testfs.Tree{Files: []testfs.File{{Path: []string{"a.txt"}}}})
//	h.Write("b.txt", testfs.File{Chunks: []testfs.Chunk{{Pattern: 'B', Size: "10"}}})
//	h.Remove("a.txt")
//	h.AssertIndexed(records, []testfs.Indexed{{Path: "b.txt"}})
type Harness struct {
	t    *testing.T
	root string
}

// New sows given into a fresh temporary directory.
// The directory is cleaned up by t.TempDir() mechanics.
func New(t *testing.T, given Tree) *Harness {
	t.Helper()

	// Resolve symlinks so paths match what the crawler reports (macOS /private/var)
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	if err := Sow(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}
	return &Harness{t: t, root: root}
}

// Root returns the tree root.
func (h *Harness) Root() string {
	return h.root
}

// Path returns the absolute path of rel.
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.root, rel)
}

// Write creates or replaces the file at rel. f.Path is ignored.
func (h *Harness) Write(rel string, f File) {
	h.t.Helper()
	if err := WriteFile(h.Path(rel), f); err != nil {
		h.t.Fatalf("write %s: %v", rel, err)
	}
}

// Mkdir creates the directory rel and its parents.
func (h *Harness) Mkdir(rel string) {
	h.t.Helper()
	if err := os.MkdirAll(h.Path(rel), 0o755); err != nil {
		h.t.Fatalf("mkdir %s: %v", rel, err)
	}
}

// Remove deletes rel and everything below it.
func (h *Harness) Remove(rel string) {
	h.t.Helper()
	if err := os.RemoveAll(h.Path(rel)); err != nil {
		h.t.Fatalf("remove %s: %v", rel, err)
	}
}

// Rename moves rel to newRel.
func (h *Harness) Rename(rel, newRel string) {
	h.t.Helper()
	if err := os.Rename(h.Path(rel), h.Path(newRel)); err != nil {
		h.t.Fatalf("rename %s -> %s: %v", rel, newRel, err)
	}
}
