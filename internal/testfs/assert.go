//go:build unix

package testfs

import (
	"path/filepath"
	"testing"

	"github.com/ivoronin/indexdog/internal/types"
)

// -----------------------------------------------------------------------------
// Assertion Functions
// -----------------------------------------------------------------------------

// AssertIndexed verifies records match expected exactly by path.
// Paths in expected are relative to the harness root.
func (h *Harness) AssertIndexed(records []*types.Record, expected []Indexed) {
	h.t.Helper()
	AssertRecords(h.t, h.root, records, expected)
}

// AssertRecords verifies records match expected, with paths relative to root.
//
// Checks:
//   - Every expected path has exactly one record
//   - No record exists for an unexpected path
//   - MIME, Width and Height match where expected sets them
func AssertRecords(t *testing.T, root string, records []*types.Record, expected []Indexed) {
	t.Helper()

	byPath := buildPathToRecordsMap(t, root, records)

	for _, want := range expected {
		got, ok := byPath[want.Path]
		if !ok {
			t.Errorf("expected record not found: %s", want.Path)
			continue
		}
		delete(byPath, want.Path)
		verifyRecord(t, want, got)
	}
	for p := range byPath {
		t.Errorf("unexpected record: %s", p)
	}
}

// AssertPaths verifies records cover exactly the given relative paths.
func AssertPaths(t *testing.T, root string, records []*types.Record, paths ...string) {
	t.Helper()
	expected := make([]Indexed, len(paths))
	for i, p := range paths {
		expected[i] = Indexed{Path: p}
	}
	AssertRecords(t, root, records, expected)
}

// -----------------------------------------------------------------------------
// Helper Functions (unexported)
// -----------------------------------------------------------------------------

// buildPathToRecordsMap indexes records by relative path, failing on duplicates.
func buildPathToRecordsMap(t *testing.T, root string, records []*types.Record) map[string]*types.Record {
	t.Helper()
	m := make(map[string]*types.Record, len(records))
	for _, r := range records {
		rel, err := filepath.Rel(root, r.Path)
		if err != nil {
			t.Errorf("record outside root: %s", r.Path)
			continue
		}
		if _, dup := m[rel]; dup {
			t.Errorf("duplicate record: %s", rel)
		}
		m[rel] = r
	}
	return m
}

// verifyRecord compares the fields expected sets.
func verifyRecord(t *testing.T, want Indexed, got *types.Record) {
	t.Helper()
	if want.MIME != "" && got.MIME != want.MIME {
		t.Errorf("%s: MIME %q, want %q", want.Path, got.MIME, want.MIME)
	}
	if want.Width != 0 && got.Width != want.Width {
		t.Errorf("%s: width %d, want %d", want.Path, got.Width, want.Width)
	}
	if want.Height != 0 && got.Height != want.Height {
		t.Errorf("%s: height %d, want %d", want.Path, got.Height, want.Height)
	}
}
