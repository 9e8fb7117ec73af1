// Package reaper deletes the redundant copies named by a retention plan.
//
// # Overview
//
// The reaper is the final stage in the pipeline. It receives decisions the
// caller has already approved and removes each planned path in order. It
// asks no questions itself.
//
// # Processing Pipeline
//
//	Input: []planner.Decision (approved plan)
//	    │
//	    ├──► For each Decision (context checked in between):
//	    │        │
//	    │        └──► For each path in Delete:
//	    │                 │
//	    │                 ├──► Verify keeper still present with the scanned size
//	    │                 │
//	    │                 ├──► Verify target unchanged (regular, size, mtime)
//	    │                 │
//	    │                 ├──► Acquire exclusive advisory lock (skip if in use)
//	    │                 │
//	    │                 └──► Remove (unless dry run)
//	    │
//	    └──► Output: Result (outcomes, counts, bytes freed)
//
// # Failure Isolation
//
// Every path gets its own Outcome. A failed check or removal is recorded as a
// DeletionFailure on errCh and the next path is processed as usual. A path
// that has already vanished is a failure too, never a crash.
//
// # Accounting
//
// Bytes are credited per physical file. A duplicate with several hardlinked
// paths frees its size only after every one of those paths is removed.
package reaper

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/progress"
	"github.com/dupereap/dupereap/internal/types"
)

var log = logging.L("reaper")

// Reaper removes planned duplicates.
//
// The reaper is designed for single-use: create with New(), call Run() once.
type Reaper struct {
	decisions    []planner.Decision // Approved plan
	dryRun       bool               // Check everything, remove nothing
	showProgress bool               // Whether to display progress bar
	errCh        chan error         // Non-fatal errors (deletion failures)
}

// New creates a Reaper for an approved plan.
func New(decisions []planner.Decision, dryRun, showProgress bool, errCh chan error) *Reaper {
	return &Reaper{
		decisions:    decisions,
		dryRun:       dryRun,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// stats tracks deletion progress.
type stats struct {
	totalFiles     int
	processedFiles int
	failedFiles    int
	totalSets      int
	processedSets  int
	freedBytes     int64
	startTime      time.Time
}

func (s *stats) String() string {
	pct := 0.0
	if s.totalFiles > 0 {
		pct = float64(s.processedFiles) / float64(s.totalFiles) * 100
	}
	return fmt.Sprintf("Reaped %d/%d files in %d/%d sets (%.0f%%), %d failed, freed %s in %.1fs",
		s.processedFiles-s.failedFiles, s.totalFiles,
		s.processedSets, s.totalSets,
		pct, s.failedFiles,
		humanize.IBytes(uint64(s.freedBytes)),
		time.Since(s.startTime).Seconds())
}

// Run deletes every planned path and returns the per-file outcomes.
//
// Returns ctx.Err() with the outcomes so far if the context is canceled;
// the decision in progress is always finished first.
func (r *Reaper) Run(ctx context.Context) (Result, error) {
	st := &stats{totalSets: len(r.decisions), startTime: time.Now()}
	for _, d := range r.decisions {
		st.totalFiles += len(d.Delete)
	}
	bar := progress.New(r.showProgress, int64(st.totalFiles))
	bar.Describe(st)

	result := Result{DryRun: r.dryRun}
	for i, d := range r.decisions {
		if err := ctx.Err(); err != nil {
			bar.Finish(st)
			return result, err
		}

		// Planned paths remaining per physical file, keyed by sibling group.
		remaining := make(map[int]int)
		for _, f := range d.Delete {
			remaining[siblingKey(d.Set, f)]++
		}

		for _, target := range d.Delete {
			o := r.reapFile(i, d.Keep, target)
			result.Outcomes = append(result.Outcomes, o)
			st.processedFiles++
			bar.Add(1)

			if o.Action == ActionFailed {
				result.Failed++
				st.failedFiles++
				r.sendError(types.NewPathError(types.DeletionFailure, target.Path, o.Err))
				bar.Describe(st)
				continue
			}

			result.Deleted++
			key := siblingKey(d.Set, target)
			if remaining[key]--; remaining[key] == 0 {
				result.BytesFreed += d.Set.Size
				st.freedBytes += d.Set.Size
			}
			log.Debug(o.Action.String(), logging.KeyPath, target.Path, "keeper", d.Keep.Path)
			bar.Describe(st)
		}

		st.processedSets++
		bar.Describe(st)
	}

	bar.Finish(st)
	log.Info("reaping complete",
		"dryRun", r.dryRun,
		"deleted", result.Deleted,
		"failed", result.Failed,
		"freed", humanize.IBytes(uint64(result.BytesFreed)))
	return result, nil
}

// siblingKey identifies the physical file behind f within set.
func siblingKey(set types.DuplicateSet, f *types.FileInfo) int {
	if sg, ok := set.SiblingsOf(f); ok {
		return sg.First().Index
	}
	return f.Index
}

// reapFile removes target after checking that keeper and target are as scanned.
//
// Safety checks:
//   - Keeper still a regular file of the scanned size (never leave zero copies)
//   - Target still a regular file with the scanned size and mtime
//   - Exclusive advisory lock on target obtainable (skips if file in use)
func (r *Reaper) reapFile(set int, keeper, target *types.FileInfo) Outcome {
	o := Outcome{Set: set, Path: target.Path, Keeper: keeper.Path, Action: ActionFailed}

	if err := checkKeeper(keeper); err != nil {
		o.Err = err
		return o
	}

	info, err := os.Lstat(target.Path)
	if err != nil {
		o.Err = err
		return o
	}
	if err := unchanged(info, target); err != nil {
		o.Err = err
		return o
	}

	f, err := os.Open(target.Path)
	if err != nil {
		o.Err = err
		return o
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()

	if err := lock(f); err != nil {
		o.Err = err
		return o
	}

	// Re-check through the handle: the path may have been swapped after Lstat.
	if info, err = f.Stat(); err != nil {
		o.Err = err
		return o
	}
	if err := unchanged(info, target); err != nil {
		o.Err = err
		return o
	}

	if r.dryRun {
		o.Action, o.Err = ActionWouldDelete, nil
		return o
	}

	if !removeWhileOpen {
		_ = f.Close()
		closed = true
	}
	if err := os.Remove(target.Path); err != nil {
		o.Err = err
		return o
	}
	o.Action, o.Err = ActionDeleted, nil
	return o
}

// checkKeeper verifies the kept copy is still in place.
func checkKeeper(keeper *types.FileInfo) error {
	info, err := os.Stat(keeper.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeeperMissing, err)
	}
	if !info.Mode().IsRegular() || info.Size() != keeper.Size {
		return fmt.Errorf("%w: %s", ErrKeeperMissing, keeper.Path)
	}
	return nil
}

// unchanged reports whether info still matches what the scan recorded.
func unchanged(info fs.FileInfo, scanned *types.FileInfo) error {
	if !info.Mode().IsRegular() {
		return ErrNotRegular
	}
	if info.Size() != scanned.Size || !info.ModTime().Equal(scanned.ModTime) {
		return ErrModified
	}
	return nil
}

// sendError sends an error to the errors channel if it's not nil.
func (r *Reaper) sendError(err error) {
	if r.errCh != nil {
		r.errCh <- err
	}
}
