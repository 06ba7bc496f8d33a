package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/indexdog/internal/types"
)

// parseSize parses a human-readable size string into bytes.
// Supports formats: "100", "1K", "1MB", "1GiB", etc.
func parseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(bytes), nil
}

// validateGlobPatterns checks that all patterns are valid filepath.Match patterns.
func validateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// resolveDirs makes paths absolute and checks each is a directory.
func resolveDirs(paths []string) ([]string, error) {
	dirs := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s: not a directory", p)
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}

// formatRecord renders one record for --verbose output:
// size, MIME type, dimensions for images, path and a cache marker.
func formatRecord(r *types.Record) string {
	dims := "-"
	if r.Width > 0 && r.Height > 0 {
		dims = fmt.Sprintf("%dx%d", r.Width, r.Height)
	}
	line := fmt.Sprintf("%10s  %-24s %-11s %016x  %s",
		humanize.IBytes(uint64(r.Size)), r.MIME, dims, r.Hash, r.Path)
	if r.Cached {
		line += " (cached)"
	}
	return line
}

// writeJSON writes one JSON object per record, in the order given.
func writeJSON(w io.Writer, records []*types.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
