// Package types provides shared types used across the indexdog codebase.
package types

import (
	"cmp"
	"path/filepath"
	"slices"
	"time"
)

// FileInfo holds metadata for a discovered file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Dev     uint64
	Ino     uint64
}

// TaskKind tells workers how to handle a Task.
type TaskKind int

const (
	TaskDir  TaskKind = iota // List the directory, enqueue its children
	TaskFile                 // Extract metadata from the file
)

func (k TaskKind) String() string {
	if k == TaskDir {
		return "dir"
	}
	return "file"
}

// Task is one unit of crawl work. Tasks are compared by pointer identity
// on the work queue, so the same path may be queued twice.
type Task struct {
	Path string
	Kind TaskKind
	Info *FileInfo // Set for TaskFile, nil for TaskDir
}

// NewDirTask creates a task listing dir.
func NewDirTask(dir string) *Task {
	return &Task{Path: dir, Kind: TaskDir}
}

// NewFileTask creates a task indexing the file described by fi.
func NewFileTask(fi *FileInfo) *Task {
	return &Task{Path: fi.Path, Kind: TaskFile, Info: fi}
}

// Parent returns the grouping key of the task: its parent directory.
func (t *Task) Parent() string { return filepath.Dir(t.Path) }

// Under reports whether the task path is root or lies below it.
func (t *Task) Under(root string) bool {
	if t.Path == root {
		return true
	}
	rel, err := filepath.Rel(root, t.Path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && rel[2] == filepath.Separator
}

// Metadata is what extraction learns about file content.
type Metadata struct {
	MIME   string `json:"mime"`
	Hash   uint64 `json:"hash"`             // xxh3 of the full content
	Width  int    `json:"width,omitempty"`  // Image width in pixels
	Height int    `json:"height,omitempty"` // Image height in pixels
}

// Record is one indexed file.
type Record struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	Metadata
	Cached bool `json:"cached"` // Served from the store without reading the file
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// Records is the index output, sorted by path.
type Records = Sorted[*Record, string]

// NewRecords creates Records sorted by path.
func NewRecords(records []*Record) Records {
	return NewSorted(records, func(r *Record) string { return r.Path })
}
