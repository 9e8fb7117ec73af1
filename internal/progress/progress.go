// Package progress renders stage spinners and bars on stderr.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const updateInterval = 50 * time.Millisecond

// Output is where bars and stage summaries are written.
var Output io.Writer = os.Stderr

// Bar wraps progressbar with enabled/disabled handling.
// All methods are no-ops when disabled, and safe on a nil *Bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a progress bar.
// If enabled=false, returns a Bar where all methods are no-ops.
// Use total=-1 for spinner mode, or total>0 for determinate progress.
func New(enabled bool, total int64) *Bar {
	if !enabled {
		return &Bar{}
	}

	opts := []progressbar.Option{
		progressbar.OptionSetWriter(Output),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
	}

	if total < 0 {
		opts = append(opts,
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetElapsedTime(false),
		)
		return &Bar{bar: progressbar.NewOptions(-1, opts...)}
	}

	opts = append(opts, progressbar.OptionSetWidth(40))
	return &Bar{bar: progressbar.NewOptions64(total, opts...)}
}

// Add advances a determinate bar by n.
func (b *Bar) Add(n int64) {
	if b != nil && b.bar != nil {
		_ = b.bar.Add64(n)
	}
}

// Describe updates the progress bar description.
func (b *Bar) Describe(s fmt.Stringer) {
	if b != nil && b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Finish completes the progress bar and prints the final stage summary.
func (b *Bar) Finish(s fmt.Stringer) {
	if b != nil && b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(Output, "✔ "+s.String())
	}
}
