// Package crawler indexes directory trees using a shared hinted work queue.
//
// # Architecture Overview
//
// The crawler keeps all pending work (directories to list, files to index)
// in a single workqueue.Queue. N workers pop tasks from it. Selection is
// random by default, which spreads I/O across the tree, but every listed
// directory is prioritized right after its children are queued. Workers
// therefore finish one directory before wandering off, and a caller can
// redirect the crawl at any time through Prioritize or Hint.
//
// # Concurrency Model
//
// The queue itself is not thread-safe. One mutex serializes every queue call,
// and a condition variable parks idle workers:
//
//	┌─────────────────┬─────────────────────────────────────────────────┐
//	│ Primitive       │ Purpose                                         │
//	├─────────────────┼─────────────────────────────────────────────────┤
//	│ mu              │ Guards queue, inflight, seen, stopped           │
//	│ cond            │ Wakes workers on new work, idle or shutdown     │
//	│ inflight        │ Tasks popped but not finished                   │
//	│ seen            │ Directories already listed (dedupes overlaps)   │
//	│ resMu           │ Guards the record map                           │
//	│ atomic counters │ Lock-free stats updates for progress display    │
//	└─────────────────┴─────────────────────────────────────────────────┘
//
// # Data Flow
//
//	Run(ctx)
//	    │
//	    ├──► queue a dir task per root path
//	    │
//	    ├──► spawn workers, each looping:
//	    │        │
//	    │        ├──► next(): lock → Pop (hinted or random) → inflight++
//	    │        │        └──► empty queue, nothing inflight → stop (unless Follow)
//	    │        │
//	    │        ├──► dir task:  list → lock → Add children → Prioritize(dir)
//	    │        ├──► file task: Processor.Process → record
//	    │        │
//	    │        └──► done(): lock → inflight-- → wake idle workers
//	    │
//	    └──► wait for workers → return records sorted by path
//
// # Termination
//
// Without Follow, the crawl ends when the queue is empty and no task is in
// flight: no running task can produce more work. With Follow, workers park
// until ctx is cancelled, so Submit can keep feeding them (see watcher).
package crawler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/indexdog/internal/metrics"
	"github.com/ivoronin/indexdog/internal/progress"
	"github.com/ivoronin/indexdog/internal/types"
	"github.com/ivoronin/indexdog/internal/workqueue"
)

// Processor turns a discovered file into a record.
type Processor interface {
	Process(ctx context.Context, fi *types.FileInfo) (*types.Record, error)
}

// Options configures a Crawler.
type Options struct {
	MinSize      int64      // Minimum file size filter (bytes)
	Excludes     []string   // Glob patterns for basename exclusion
	Workers      int        // Concurrent tasks (default 1)
	ShowProgress bool       // Whether to display progress spinner
	Follow       bool       // Keep running after the queue drains
	Seed         uint64     // Random selection seed, 0 = random
	ErrCh        chan error // Non-fatal errors (permission denied, etc.)

	Processor Processor        // nil = records carry stat data only
	Metrics   *metrics.Metrics // nil = no metrics

	OnDirectory func(dir string)        // Called before each directory is listed
	OnRecord    func(rec *types.Record) // Called for each indexed file
}

// Crawler indexes files below a set of root paths.
//
// Create with New(), optionally Prioritize paths, then call Run() once.
// Submit, Hint, Prioritize and Evict are safe to call while Run is active.
type Crawler struct {
	// Config (immutable, set by New)
	paths []string
	opts  Options

	// Scheduling state, guarded by mu
	mu        sync.Mutex
	cond      *sync.Cond
	queue     *workqueue.Queue[*types.Task, string]
	inflight  int
	seen      map[string]struct{}
	stopped   bool
	lastStats workqueue.Stats // Queue stats already exported to metrics

	// Results, guarded by resMu
	resMu   sync.Mutex
	records map[string]*types.Record

	stats *stats
	bar   *progress.Bar
}

// New creates a Crawler for paths.
func New(paths []string, opts Options) *Crawler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	var qopts []workqueue.Option
	if opts.Seed != 0 {
		qopts = append(qopts, workqueue.WithSeed(opts.Seed))
	}

	c := &Crawler{
		paths:   paths,
		opts:    opts,
		queue:   workqueue.New(workqueue.KeyFunc((*types.Task).Parent), qopts...),
		seen:    make(map[string]struct{}),
		records: make(map[string]*types.Record),
		stats:   &stats{startTime: time.Now()},
		bar:     progress.New(false),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// stats tracks crawl progress using atomic counters for lock-free updates.
// Reads may see counters from slightly different moments, which is fine
// for progress display.
type stats struct {
	listedDirs   atomic.Int64 // Directories listed
	scannedFiles atomic.Int64 // Files discovered
	indexedFiles atomic.Int64 // Files with a record
	cachedFiles  atomic.Int64 // Records served from the store
	indexedBytes atomic.Int64 // Bytes of indexed files
	evicted      atomic.Int64 // Tasks dropped by Evict
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Indexed %d files (%s, %d cached) in %d dirs in %.1fs",
		s.indexedFiles.Load(), humanize.IBytes(uint64(s.indexedBytes.Load())),
		s.cachedFiles.Load(), s.listedDirs.Load(),
		time.Since(s.startTime).Seconds())
}

// Stats returns a progress summary implementing fmt.Stringer.
func (c *Crawler) Stats() fmt.Stringer { return c.stats }

// Run crawls until the queue drains (or ctx is cancelled in Follow mode)
// and returns the records indexed, sorted by path.
func (c *Crawler) Run(ctx context.Context) types.Records {
	c.bar = progress.New(c.opts.ShowProgress)
	c.stats.startTime = time.Now()
	c.bar.Describe(c.stats) // Render progress immediately

	c.mu.Lock()
	for _, p := range c.paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			c.mu.Unlock()
			c.sendError("resolve", err)
			c.mu.Lock()
			continue
		}
		c.queue.Add(types.NewDirTask(absPath))
	}
	c.syncQueueMetrics()
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.stop)
	defer stop()

	var wg sync.WaitGroup
	for range c.opts.Workers {
		wg.Go(func() { c.worker(ctx) })
	}
	wg.Wait()

	c.bar.Finish(c.stats)
	return c.Records()
}

// Records returns a snapshot of the index, sorted by path.
func (c *Crawler) Records() types.Records {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	out := make([]*types.Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return types.NewRecords(out)
}

// Pending returns the number of queued and in-flight tasks.
func (c *Crawler) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len() + c.inflight
}

// Submit queues path for indexing: a directory is listed, a regular file is
// indexed. Excluded, undersized and non-regular paths are ignored.
func (c *Crawler) Submit(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if c.shouldExclude(path) {
		return nil
	}

	var task *types.Task
	switch {
	case info.IsDir():
		task = types.NewDirTask(path)
	case info.Mode().IsRegular():
		if info.Size() < c.opts.MinSize {
			return nil
		}
		task = types.NewFileTask(newFileInfo(path, info))
	default:
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, listed := c.seen[path]; listed && task.Kind == types.TaskDir {
		return nil
	}
	c.queue.Add(task)
	c.syncQueueMetrics()
	c.cond.Signal()
	return nil
}

// Hint asks for queued tasks directly inside dir to be handed out first.
func (c *Crawler) Hint(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue.Prioritize(dir)
}

// Prioritize moves dir to the front of the crawl. An already listed
// directory has its queued children hinted. Otherwise dir is queued for
// listing with its parent hinted, and its children are hinted once listed.
func (c *Crawler) Prioritize(dir string) {
	dir = filepath.Clean(dir)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, listed := c.seen[dir]; listed {
		c.queue.Prioritize(dir)
		return
	}
	c.queue.Add(types.NewDirTask(dir))
	c.queue.Prioritize(filepath.Dir(dir))
	c.syncQueueMetrics()
	c.cond.Signal()
}

// Evict drops every queued task for path or below it, forgets listed
// directories there and removes their records. Returns the number of
// queued tasks dropped.
func (c *Crawler) Evict(path string) int {
	path = filepath.Clean(path)
	under := func(t *types.Task) bool { return t.Under(path) }

	c.mu.Lock()
	n := 0
	c.queue.ForEachRemove(under, func(*types.Task) { n++ })
	for dir := range c.seen {
		if under(&types.Task{Path: dir}) {
			delete(c.seen, dir)
		}
	}
	c.syncQueueMetrics()
	c.cond.Broadcast() // Removal may have emptied the queue
	c.mu.Unlock()

	c.resMu.Lock()
	for p := range c.records {
		if under(&types.Task{Path: p}) {
			delete(c.records, p)
		}
	}
	c.resMu.Unlock()

	c.stats.evicted.Add(int64(n))
	c.opts.Metrics.AddEvictions(n)
	return n
}

// stop wakes all workers and makes them exit.
func (c *Crawler) stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// worker processes tasks until next reports the crawl is over.
func (c *Crawler) worker(ctx context.Context) {
	for {
		task, ok := c.next()
		if !ok {
			return
		}
		switch task.Kind {
		case types.TaskDir:
			c.listDir(task.Path)
		case types.TaskFile:
			c.indexFile(ctx, task.Info)
		}
		c.done()
		c.bar.Add(1)
		c.bar.Describe(c.stats)
	}
}

// next blocks until a task is available or the crawl is over.
func (c *Crawler) next() (*types.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.stopped {
			return nil, false
		}
		if task, ok := c.queue.Pop(); ok {
			c.inflight++
			c.syncQueueMetrics()
			return task, true
		}
		if c.inflight == 0 && !c.opts.Follow {
			// Nothing queued, nothing running: no more work can appear
			c.stopped = true
			c.cond.Broadcast()
			return nil, false
		}
		c.cond.Wait()
	}
}

// done marks a popped task as finished.
func (c *Crawler) done() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 && c.queue.IsEmpty() {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// listDir lists dir and queues its children, then prioritizes them.
// Directories already listed (overlapping roots, repeated submits) are skipped.
func (c *Crawler) listDir(dir string) {
	c.mu.Lock()
	if _, listed := c.seen[dir]; listed {
		c.mu.Unlock()
		return
	}
	c.seen[dir] = struct{}{}
	c.mu.Unlock()

	// Watch before reading so no entry created meanwhile goes unnoticed
	if c.opts.OnDirectory != nil {
		c.opts.OnDirectory(dir)
	}

	files, subdirs, err := c.listDirectory(dir)
	if err != nil {
		c.mu.Lock()
		delete(c.seen, dir)
		c.mu.Unlock()
		c.sendError("list", err)
		return
	}
	c.stats.listedDirs.Add(1)
	c.opts.Metrics.DirectoryListed()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, listed := c.seen[dir]; !listed {
		return // Evicted while listing
	}
	for _, sub := range subdirs {
		c.queue.Add(types.NewDirTask(sub))
	}
	for _, f := range files {
		c.stats.scannedFiles.Add(1)
		if f.Size >= c.opts.MinSize && !c.shouldExclude(f.Path) {
			c.queue.Add(types.NewFileTask(f))
		}
	}
	if len(files)+len(subdirs) > 0 {
		c.queue.Prioritize(dir)
	}
	c.syncQueueMetrics()
	c.cond.Broadcast()
}

// indexFile runs the processor on fi and records the result.
func (c *Crawler) indexFile(ctx context.Context, fi *types.FileInfo) {
	rec := &types.Record{Path: fi.Path, Size: fi.Size, ModTime: fi.ModTime}
	if c.opts.Processor != nil {
		var err error
		rec, err = c.opts.Processor.Process(ctx, fi)
		if err != nil {
			if ctx.Err() == nil {
				c.sendError("extract", err)
			}
			return
		}
	}

	c.resMu.Lock()
	c.records[rec.Path] = rec
	c.resMu.Unlock()

	c.stats.indexedFiles.Add(1)
	c.stats.indexedBytes.Add(rec.Size)
	source := metrics.SourceExtracted
	if rec.Cached {
		c.stats.cachedFiles.Add(1)
		source = metrics.SourceCached
	}
	c.opts.Metrics.FileIndexed(source, rec.Size)

	if c.opts.OnRecord != nil {
		c.opts.OnRecord(rec)
	}
}

// syncQueueMetrics exports queue lengths and counter deltas. Caller holds mu.
func (c *Crawler) syncQueueMetrics() {
	m := c.opts.Metrics
	if m == nil {
		return
	}
	s := c.queue.Stats()
	m.SetQueue(c.queue.Len(), c.queue.LenFast())
	m.AddPops(metrics.ModeHinted, s.HintedPops-c.lastStats.HintedPops)
	m.AddPops(metrics.ModeRandom, s.RandomPops-c.lastStats.RandomPops)
	m.AddStaleHints(s.StaleHints - c.lastStats.StaleHints)
	c.lastStats = s
}

// listDirectory reads a single directory, returning files and subdirectories.
//
// Uses batched ReadDir (1000 entries per batch) to bound memory when listing
// directories with millions of entries.
//
// Filtering:
//   - Directories → subdirs (unless excluded)
//   - Regular files → files (with metadata via Info())
//   - Symlinks, devices, etc. → skipped
func (c *Crawler) listDirectory(dirPath string) (files []*types.FileInfo, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return files, subdirs, err
			}
			break
		}

		for _, entry := range entries {
			f, sub := c.processEntry(dirPath, entry)
			if f != nil {
				files = append(files, f)
			}
			if sub != "" {
				subdirs = append(subdirs, sub)
			}
		}
	}

	return files, subdirs, nil
}

// processEntry processes a single directory entry, returning a file or subdirectory path.
// Returns (nil, "") for entries that should be skipped.
func (c *Crawler) processEntry(dirPath string, entry os.DirEntry) (file *types.FileInfo, subdir string) {
	fullPath := filepath.Join(dirPath, entry.Name())

	if entry.IsDir() {
		if c.shouldExclude(fullPath) {
			return nil, ""
		}
		return nil, fullPath
	}

	if !entry.Type().IsRegular() {
		return nil, ""
	}

	// Info() may trigger additional stat call (platform-dependent)
	info, err := entry.Info()
	if err != nil {
		return nil, "" // Vanished between ReadDir and Info
	}

	return newFileInfo(fullPath, info), ""
}

// sendError reports a non-fatal error from stage.
func (c *Crawler) sendError(stage string, err error) {
	c.opts.Metrics.Error(stage)
	if c.opts.ErrCh != nil {
		c.opts.ErrCh <- err
	}
}

// shouldExclude checks if a path's basename matches any glob exclude pattern.
func (c *Crawler) shouldExclude(path string) bool {
	if len(c.opts.Excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range c.opts.Excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
