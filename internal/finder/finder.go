// Package finder runs the duplicate detection pipeline end to end.
//
//	scan → screen → verify → Report
//
// Per-path errors from every stage travel over one shared channel and end up
// in Report.Errors. Find itself fails only for invalid options, an
// unreachable root, or cancellation; "no duplicates" is an empty Report, never
// an error.
package finder

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"time"

	"github.com/dupereap/dupereap/internal/cache"
	"github.com/dupereap/dupereap/internal/hasher"
	"github.com/dupereap/dupereap/internal/identity"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/scanner"
	"github.com/dupereap/dupereap/internal/screener"
	"github.com/dupereap/dupereap/internal/types"
	"github.com/dupereap/dupereap/internal/verifier"
)

var log = logging.L("finder")

// Report is the outcome of a completed scan.
type Report struct {
	Roots     []string
	Algorithm string
	Partial   int64 // Partial window used, 0 if the stage was off
	Started   time.Time
	Elapsed   time.Duration

	Sets      types.DuplicateSets  // Confirmed duplicate sets, discovery order
	Hardlinks []types.SiblingGroup // Paths already sharing one physical file
	Errors    []*types.PathError   // Skipped paths with reasons

	FilesScanned   int // Files that passed the size and exclude filters
	SizeCandidates int // Files in size buckets with 2+ physical files
	FullCandidates int // Files that needed a full-content digest
	DuplicateFiles int // Set members beyond one per set
	Reclaimable    int64
	SharedBytes    int64 // Space already saved by hardlink groups
}

// Find scans opts.Paths and returns the duplicate report.
// digestCache may be nil.
func Find(ctx context.Context, opts Options, digestCache *cache.Cache) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	alg, err := hasher.Lookup(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Algorithm: alg.Name,
		Partial:   opts.window(),
		Started:   time.Now(),
	}
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		report.Roots = append(report.Roots, abs)
	}

	errCh := make(chan error, 100)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for err := range errCh {
			pe := asPathError(err)
			log.Warn("skipped", logging.KeyPath, pe.Path, logging.KeyKind, pe.Kind.String(), logging.KeyError, pe.Err)
			report.Errors = append(report.Errors, pe)
		}
	}()
	stop := func() {
		close(errCh)
		<-drained
	}

	files, err := scanner.New(opts.Paths, opts.MinSize, opts.Excludes, opts.Workers,
		identity.New(opts.Hardlinks), opts.ShowProgress, errCh).Run(ctx)
	if err != nil {
		stop()
		return nil, err
	}
	report.FilesScanned = len(files)

	if err := ctx.Err(); err != nil {
		stop()
		return nil, err
	}
	screened := screener.New(files, opts.ShowProgress).Run()
	for _, cg := range screened.Candidates.Items() {
		for _, sg := range cg.Items() {
			report.SizeCandidates += sg.Len()
		}
	}

	verified, err := verifier.New(screened.Candidates, alg, opts.window(), opts.Workers,
		opts.ShowProgress, errCh, digestCache).Run(ctx)
	stop()
	if err != nil {
		return nil, err
	}

	report.Sets = verified.Sets
	report.Hardlinks = sharedOnly(screened.Hardlinks, report.Sets)
	report.FullCandidates = verified.FullCandidates
	for _, set := range report.Sets.Items() {
		report.DuplicateFiles += set.Len() - 1
		report.Reclaimable += set.Reclaimable()
	}
	for _, sg := range report.Hardlinks {
		report.SharedBytes += sg.First().Size * int64(sg.Len()-1)
	}
	report.Elapsed = time.Since(report.Started)

	log.Info("scan finished",
		"files", report.FilesScanned,
		"sets", report.Sets.Len(),
		"reclaimable", report.Reclaimable,
		"errors", len(report.Errors),
		"elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// Plan builds retention decisions for the report's sets.
// approve lists 1-based set numbers; an empty list approves every set.
// Decisions follow set order whatever order approve is given in.
func (r *Report) Plan(strategy planner.Strategy, approve []int) ([]planner.Decision, error) {
	sets := r.Sets.Items()
	if len(approve) == 0 {
		return planner.PlanAll(r.Sets, strategy), nil
	}

	approve = slices.Sorted(slices.Values(approve))
	seen := make(map[int]bool, len(approve))
	var decisions []planner.Decision
	for _, n := range approve {
		if n < 1 || n > len(sets) {
			return nil, types.InvalidConfigf("set %d out of range 1..%d", n, len(sets))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		decisions = append(decisions, planner.Plan(sets[n-1], strategy))
	}
	return decisions, nil
}

// sharedOnly drops hardlink groups that belong to a confirmed duplicate set;
// those are reported inside their set.
func sharedOnly(groups []types.SiblingGroup, sets types.DuplicateSets) []types.SiblingGroup {
	inSet := make(map[int]bool)
	for _, set := range sets.Items() {
		for _, f := range set.Files() {
			inSet[f.Index] = true
		}
	}
	var shared []types.SiblingGroup
	for _, sg := range groups {
		if !inSet[sg.First().Index] {
			shared = append(shared, sg)
		}
	}
	return shared
}

// asPathError normalizes a stage error into a PathError.
func asPathError(err error) *types.PathError {
	var pe *types.PathError
	if errors.As(err, &pe) {
		return pe
	}
	return types.NewPathError(types.ReadFailure, "", err)
}
