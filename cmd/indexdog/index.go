package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivoronin/indexdog/internal/crawler"
	"github.com/ivoronin/indexdog/internal/extractor"
	"github.com/ivoronin/indexdog/internal/metrics"
	"github.com/ivoronin/indexdog/internal/store"
	"github.com/ivoronin/indexdog/internal/types"
	"github.com/ivoronin/indexdog/internal/watcher"
)

// indexOptions holds CLI flags for the index command.
type indexOptions struct {
	minSizeStr  string
	excludes    []string
	workers     int
	noProgress  bool
	verbose     bool
	json        bool
	storeFile   string
	prioritize  []string
	watch       bool
	metricsAddr string
	seed        uint64
}

// newIndexCmd creates the index subcommand.
func newIndexCmd() *cobra.Command {
	opts := &indexOptions{
		minSizeStr: "0",
		workers:    runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Index files below the given directories",
		Long: `Crawls the given directories and records MIME type, content hash and
image dimensions for every regular file.

Pending work is handed out in random order, but a directory that was just
listed is drained before anything else starts. Use --prioritize to index
part of the tree first:
  indexdog index ~ --prioritize ~/Pictures

With --store, metadata is kept between runs and unchanged files are not
read again. With --watch, indexdog keeps running and re-indexes files as
they change until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, args, opts, os.Stdout)
		},
	}

	// Bind flags to options
	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print one line per indexed file")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print records as JSON lines, sorted by path")
	cmd.Flags().StringVar(&opts.storeFile, "store", "", "Path to metadata store (skips unchanged files)")
	cmd.Flags().StringArrayVarP(&opts.prioritize, "prioritize", "p", nil, "Directory to index first (repeatable)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep indexing changes until interrupted")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Seed for random task selection (0 = random)")

	return cmd
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears progress bar line before printing to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// runIndex executes the index pipeline: crawl → extract → store → output.
func runIndex(ctx context.Context, paths []string, opts *indexOptions, out io.Writer) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}
	prioritized, err := resolveDirs(opts.prioritize)
	if err != nil {
		return fmt.Errorf("invalid --prioritize: %w", err)
	}

	// Progress and streamed output would interleave in follow mode
	showProgress := !opts.noProgress && !opts.watch

	// Create shared error channel; closed last, after every producer stopped
	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metadata, err := store.Open(opts.storeFile)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	var m *metrics.Metrics
	if opts.metricsAddr != "" {
		m = metrics.New()
		if _, err := m.Serve(ctx, opts.metricsAddr, errors); err != nil {
			return err
		}
	}

	copts := crawler.Options{
		MinSize:      minSize,
		Excludes:     opts.excludes,
		Workers:      opts.workers,
		ShowProgress: showProgress,
		Follow:       opts.watch,
		Seed:         opts.seed,
		ErrCh:        errors,
		Processor:    extractor.New(metadata),
		Metrics:      m,
	}

	var w *watcher.Watcher
	if opts.watch {
		if w, err = watcher.New(errors, m); err != nil {
			return err
		}
		copts.OnDirectory = w.Add
		if opts.verbose && !opts.json {
			var mu sync.Mutex
			copts.OnRecord = func(r *types.Record) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, formatRecord(r))
			}
		}
	}

	c := crawler.New(paths, copts)
	for _, dir := range prioritized {
		c.Prioritize(dir)
	}

	var wg sync.WaitGroup
	if w != nil {
		wg.Go(func() { _ = w.Run(ctx, c) })
	}
	records := c.Run(ctx)
	cancel()
	wg.Wait()

	return writeOutput(out, records, c.Stats(), opts, showProgress)
}

// writeOutput prints the index in the format selected by flags.
func writeOutput(out io.Writer, records types.Records, summary fmt.Stringer, opts *indexOptions, progressShown bool) error {
	switch {
	case opts.json:
		return writeJSON(out, records.Items())
	case opts.verbose && !opts.watch:
		for _, r := range records.Items() {
			fmt.Fprintln(out, formatRecord(r))
		}
	}
	if !opts.json && !progressShown {
		fmt.Fprintln(out, summary.String())
	}
	return nil
}
