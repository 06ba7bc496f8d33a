//go:build unix

package watcher

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ivoronin/indexdog/internal/crawler"
	"github.com/ivoronin/indexdog/internal/metrics"
	"github.com/ivoronin/indexdog/internal/testfs"
)

// recordingSink logs the calls it receives.
type recordingSink struct {
	mu        sync.Mutex
	calls     []string
	submitErr error
}

func (s *recordingSink) Submit(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "submit "+path)
	return s.submitErr
}

func (s *recordingSink) Hint(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "hint "+dir)
}

func (s *recordingSink) Evict(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "evict "+path)
	return 3
}

// =============================================================================
// Section 1: Event Translation
// =============================================================================

// TestHandleEvent tests each fsnotify op maps to the right crawler calls.
func TestHandleEvent(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Create, "submit /d/f,hint /d"},
		{fsnotify.Write, "submit /d/f"},
		{fsnotify.Remove, "evict /d/f"},
		{fsnotify.Rename, "evict /d/f"},
		{fsnotify.Chmod, ""},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			m := metrics.New()
			w := &Watcher{metrics: m}
			sink := &recordingSink{}
			w.handleEvent(sink, fsnotify.Event{Name: "/d/f", Op: tt.op})

			if got := strings.Join(sink.calls, ","); got != tt.want {
				t.Errorf("calls = %q, want %q", got, tt.want)
			}
			if got := testutil.ToFloat64(m.WatcherEvents.WithLabelValues(eventType(tt.op))); got != 1 {
				t.Errorf("event metric = %v, want 1", got)
			}
		})
	}
}

// TestHandleEventEvictedCount tests evictions are accumulated.
func TestHandleEventEvictedCount(t *testing.T) {
	w := &Watcher{}
	sink := &recordingSink{}
	w.handleEvent(sink, fsnotify.Event{Name: "/a", Op: fsnotify.Remove})
	w.handleEvent(sink, fsnotify.Event{Name: "/b", Op: fsnotify.Rename})
	if w.Evicted() != 6 {
		t.Errorf("Evicted() = %d, want 6", w.Evicted())
	}
}

// TestHandleEventVanishedPath tests short-lived files are not errors.
func TestHandleEventVanishedPath(t *testing.T) {
	errCh := make(chan error, 10)
	w := &Watcher{errCh: errCh}

	w.handleEvent(&recordingSink{submitErr: os.ErrNotExist}, fsnotify.Event{Name: "/tmp/x", Op: fsnotify.Create})
	w.handleEvent(&recordingSink{submitErr: errors.New("boom")}, fsnotify.Event{Name: "/tmp/y", Op: fsnotify.Write})
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) != 1 || errs[0].Error() != "boom" {
		t.Errorf("errors = %v, want only boom", errs)
	}
}

// TestEventType tests metric labels.
func TestEventType(t *testing.T) {
	if got := eventType(fsnotify.Create | fsnotify.Write); got != "create" {
		t.Errorf("eventType(create|write) = %s", got)
	}
	if got := eventType(0); got != "unknown" {
		t.Errorf("eventType(0) = %s", got)
	}
}

// =============================================================================
// Section 2: Follow Mode with a Real Crawler
// =============================================================================

// TestFollowIndexesChanges tests create, write, remove and rename end to end.
func TestFollowIndexesChanges(t *testing.T) {
	h := testfs.New(t, testfs.Tree{Files: []testfs.File{
		{Path: []string{"docs/a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "10"}}},
	}})

	errCh := make(chan error, 100)
	w, err := New(errCh, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := crawler.New([]string{h.Root()}, crawler.Options{Workers: 2, Follow: true, ErrCh: errCh, OnDirectory: w.Add})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() { _ = w.Run(ctx, c) })
	wg.Go(func() { c.Run(ctx) })
	defer func() {
		cancel()
		wg.Wait()
	}()

	indexed := func(paths ...string) func() bool {
		return func() bool {
			items := c.Records().Items()
			if len(items) != len(paths) {
				return false
			}
			for i, p := range paths {
				if items[i].Path != h.Path(p) {
					return false
				}
			}
			return true
		}
	}

	waitFor(t, "initial crawl", indexed("docs/a.txt"))
	waitFor(t, "directories watched", func() bool { return w.Watched() == 2 })

	// Create
	h.Write("docs/b.txt", testfs.File{Chunks: []testfs.Chunk{{Pattern: 'B', Size: "20"}}})
	waitFor(t, "created file", indexed("docs/a.txt", "docs/b.txt"))

	// New directory with content
	h.Write("new/sub/c.txt", testfs.File{Chunks: []testfs.Chunk{{Pattern: 'C', Size: "5"}}})
	waitFor(t, "created directory", indexed("docs/a.txt", "docs/b.txt", "new/sub/c.txt"))

	// Write
	h.Write("docs/a.txt", testfs.File{Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}})
	waitFor(t, "rewritten file", func() bool {
		items := c.Records().Items()
		return len(items) == 3 && items[0].Size == 1024
	})

	// Remove
	h.Remove("docs/b.txt")
	waitFor(t, "removed file", indexed("docs/a.txt", "new/sub/c.txt"))

	// Rename
	h.Rename("docs/a.txt", "docs/z.txt")
	waitFor(t, "renamed file", indexed("docs/z.txt", "new/sub/c.txt"))

	// Remove a directory tree
	h.Remove("new")
	waitFor(t, "removed tree", indexed("docs/z.txt"))
}

// TestRunStopsOnCancel tests Run returns promptly and closes the watcher.
func TestRunStopsOnCancel(t *testing.T) {
	w, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Add(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx, &recordingSink{}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Adding after close is silently ignored
	w.Add(t.TempDir())
}

// =============================================================================
// Helper Functions
// =============================================================================

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s: condition not met within 5s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
