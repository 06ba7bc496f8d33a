// Package watcher keeps an index current by feeding filesystem events back
// into the crawler.
//
// # Event Handling
//
//	┌────────────────┬──────────────────────────────────────────────────┐
//	│ fsnotify op    │ Crawler call                                     │
//	├────────────────┼──────────────────────────────────────────────────┤
//	│ Create         │ Submit(path) + Hint(parent): index it next       │
//	│ Write          │ Submit(path): re-index (store misses on mtime)   │
//	│ Remove, Rename │ Evict(path): drop queued tasks and records below │
//	│ Chmod          │ ignored                                          │
//	└────────────────┴──────────────────────────────────────────────────┘
//
// Directories are watched as the crawler lists them (Add is meant to be the
// crawler's OnDirectory hook), so a directory created while following is
// watched once its Create event has been processed. A rename arrives as a
// Rename for the old path and a Create for the new one.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ivoronin/indexdog/internal/metrics"
)

// Sink receives the work derived from events. *crawler.Crawler implements it.
type Sink interface {
	Submit(path string) error
	Hint(dir string)
	Evict(path string) int
}

// Watcher watches listed directories and forwards their events to a Sink.
type Watcher struct {
	fs      *fsnotify.Watcher
	errCh   chan error
	metrics *metrics.Metrics
	watched atomic.Int64
	evicted atomic.Int64
}

// New creates a Watcher. errCh and m may be nil.
func New(errCh chan error, m *metrics.Metrics) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{fs: fs, errCh: errCh, metrics: m}, nil
}

// Add starts watching dir. Failures are reported on the error channel.
func (w *Watcher) Add(dir string) {
	if err := w.fs.Add(dir); err != nil {
		if errors.Is(err, fsnotify.ErrClosed) {
			return
		}
		w.sendError(fmt.Errorf("watch %s: %w", dir, err))
		return
	}
	w.watched.Add(1)
}

// Watched returns the number of directories added so far.
func (w *Watcher) Watched() int64 { return w.watched.Load() }

// Evicted returns the number of queued tasks dropped because of events.
func (w *Watcher) Evicted() int64 { return w.evicted.Load() }

// Run forwards events to sink until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context, sink Sink) error {
	defer func() { _ = w.fs.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(sink, event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.sendError(fmt.Errorf("watcher: %w", err))
		}
	}
}

// Close stops watching. Run returns once its event channels are closed.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// handleEvent translates one event into crawler calls.
func (w *Watcher) handleEvent(sink Sink, event fsnotify.Event) {
	w.metrics.WatcherEvent(eventType(event.Op))

	switch {
	case event.Has(fsnotify.Create):
		if err := sink.Submit(event.Name); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.sendError(err)
			return
		}
		sink.Hint(filepath.Dir(event.Name))

	case event.Has(fsnotify.Write):
		if err := sink.Submit(event.Name); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.sendError(err)
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.evicted.Add(int64(sink.Evict(event.Name)))
	}
}

// eventType returns a metric label for the fsnotify operation.
func eventType(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	default:
		return "unknown"
	}
}

// sendError reports a non-fatal error.
func (w *Watcher) sendError(err error) {
	w.metrics.Error("watch")
	if w.errCh != nil {
		w.errCh <- err
	}
}
