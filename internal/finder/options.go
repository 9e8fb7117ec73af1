package finder

import (
	"path/filepath"
	"runtime"

	"github.com/dupereap/dupereap/internal/hasher"
	"github.com/dupereap/dupereap/internal/types"
)

// DefaultPartialSize is the prefix window hashed by the partial stage.
const DefaultPartialSize = 64 * 1024

// Options configures a scan.
type Options struct {
	Paths        []string // Roots, in priority order
	MinSize      int64    // Smallest file size considered (bytes)
	Algorithm    string   // Digest name, see hasher.Names
	Partial      bool     // Enable the partial-hash stage
	PartialSize  int64    // Partial window in bytes
	Workers      int      // Concurrent directory reads and file hashes
	Excludes     []string // Basename globs for files and directories
	Hardlinks    bool     // Resolve identities to recognize hardlinks
	ShowProgress bool
}

// DefaultWorkers returns half the available CPUs, at least one.
func DefaultWorkers() int { return max(1, runtime.NumCPU()/2) }

// MaxWorkers is the ceiling Validate clamps the worker count to.
func MaxWorkers() int { return 4 * runtime.NumCPU() }

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinSize:     1,
		Algorithm:   hasher.Default,
		PartialSize: DefaultPartialSize,
		Workers:     DefaultWorkers(),
		Hardlinks:   true,
	}
}

// Validate rejects settings the pipeline cannot run with.
// Errors wrap types.ErrInvalidConfig. An oversized worker count is clamped.
func (o *Options) Validate() error {
	if len(o.Paths) == 0 {
		return types.InvalidConfigf("no paths to scan")
	}
	if o.MinSize < 0 {
		return types.InvalidConfigf("minimum size must not be negative, got %d", o.MinSize)
	}
	if o.Workers < 1 {
		return types.InvalidConfigf("workers must be positive, got %d", o.Workers)
	}
	o.Workers = min(o.Workers, MaxWorkers())
	if _, err := hasher.Lookup(o.Algorithm); err != nil {
		return err
	}
	if o.Partial && o.PartialSize <= 0 {
		return types.InvalidConfigf("partial window must be positive, got %d", o.PartialSize)
	}
	for _, pattern := range o.Excludes {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return types.InvalidConfigf("exclude pattern %q: %v", pattern, err)
		}
	}
	return nil
}

// window returns the partial window, or 0 when the partial stage is off.
func (o Options) window() int64 {
	if !o.Partial {
		return 0
	}
	return o.PartialSize
}
