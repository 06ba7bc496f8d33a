// Package progress renders crawl progress on stderr.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const updateInterval = 50 * time.Millisecond

// Bar wraps progressbar with enabled/disabled handling.
// All methods are no-ops when disabled. Safe for concurrent use.
type Bar struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// New creates a spinner on stderr. If enabled=false, returns a no-op Bar.
// The crawl has no known total: directories keep adding work while it runs.
func New(enabled bool) *Bar {
	if !enabled {
		return &Bar{}
	}
	return NewTo(os.Stderr)
}

// NewTo creates a spinner writing to w.
func NewTo(w io.Writer) *Bar {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
	)
	return &Bar{bar: bar, out: w}
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool { return b.bar != nil }

// Add advances the spinner by n processed tasks.
func (b *Bar) Add(n int) {
	if b.bar != nil {
		_ = b.bar.Add(n)
	}
}

// Describe updates the progress description.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Clear erases the spinner line so other output can be printed.
func (b *Bar) Clear() {
	if b.bar != nil {
		_ = b.bar.Clear()
	}
}

// Finish completes the spinner and prints a final summary.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(b.out, "✔ "+s.String())
	}
}
