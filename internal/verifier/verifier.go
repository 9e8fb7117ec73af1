// Package verifier confirms duplicates using two-stage content hashing.
//
// # Architecture Overview
//
// Candidates arrive as size buckets of sibling groups. Each bucket is hashed
// in up to two stages: a partial stage over a bounded prefix, then a full
// stage over the whole content. Only sibling groups that agree on the
// partial digest are read in full, so large files that differ early cost
// one window of I/O each.
//
// # Sibling Group Optimization
//
// Files in the same sibling group (same identity) are hardlinks and are
// guaranteed to have identical content. The verifier hashes only ONE
// representative per sibling group, preserving all paths for planning.
//
// # Concurrency Model
//
//  1. WORKER GOROUTINES (fixed pool)
//     - N workers consume jobs from the queue
//     - Each job is one bucket (or one partial-digest subgroup) at one stage
//     - Jobs spawn sibling-group-level goroutines limited by semaphore
//
//  2. COLLECTOR (main goroutine)
//     - Reads confirmed sets from the results channel until it is closed
//
//  3. ORCHESTRATOR (goroutines)
//     - Queues initial jobs and closes queue when pending work done
//     - Closes results when workers complete
//
// # Synchronization Primitives
//
//	┌─────────────────┬────────────────────────────────────────────────┐
//	│ Primitive       │ Purpose                                        │
//	├─────────────────┼────────────────────────────────────────────────┤
//	│ workerSem       │ Limits concurrent file reads (backpressure)    │
//	│ pending         │ Tracks jobs (initial + spawned) for completion │
//	│ workerWg        │ Signals worker pool completion                 │
//	│ jobCh           │ Buffered channel for jobs (fan-in/fan-out)     │
//	│ resultsCh       │ Buffered channel for confirmed duplicate sets  │
//	└─────────────────┴────────────────────────────────────────────────┘
//
// A job finishes hashing every member before it splits by digest, so each
// stage is a barrier for its own bucket only. Buckets are independent and
// pipeline freely.
//
// # Stage Selection
//
//	partial disabled, or size <= window:  FULL → done
//	size > window:                        PARTIAL → FULL → done
//
// A file no larger than the window would be read whole by the partial stage
// anyway, so its one digest is the full digest.
//
// # Failures
//
// A representative that cannot be read is retried once unless the failure is
// a permission or not-exist error. If it still fails, its sibling group is
// dropped from the bucket and a ReadFailure PathError goes to errCh. It never
// lands in a duplicate set.
//
// # Cancellation
//
// The context is checked before each job and before each file is opened.
// A hash already in progress runs to completion.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dupereap/dupereap/internal/cache"
	"github.com/dupereap/dupereap/internal/hasher"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/progress"
	"github.com/dupereap/dupereap/internal/types"
)

var log = logging.L("verifier")

// sumFile hashes file content; replaced in tests to inject read failures.
var sumFile = hasher.Sum

// fmtBytes is a shorthand for humanize.IBytes (human-readable byte sizes).
var fmtBytes = humanize.IBytes

// stage represents the progression of verification ranges.
type stage int

const (
	stagePartial stage = iota // Hash the first window bytes
	stageFull                 // Hash the whole file
)

func (s stage) String() string {
	if s == stagePartial {
		return "partial"
	}
	return "full"
}

// job represents a unit of verification work.
// Contains sibling groups to verify at a specific stage.
type job struct {
	siblings types.CandidateGroup
	stage    stage
}

// stats tracks verification progress.
type stats struct {
	totalCandidateBytes uint64        // total bytes to verify (calculated upfront)
	verifiedBytes       atomic.Uint64 // hashed data for output
	skippedBytes        atomic.Uint64 // bytes avoided due to early elimination
	cachedBytes         atomic.Uint64 // bytes retrieved from cache (skipped I/O)
	fullCandidates      atomic.Int64  // paths that reached the full stage
	confirmedCandidates atomic.Int64  // paths in confirmed sets beyond one per set
	confirmedBytes      atomic.Uint64 // reclaimable bytes in confirmed sets
	confirmedSets       atomic.Int64  // number of confirmed duplicate sets
	readErrors          atomic.Int64
	startTime           time.Time
}

func (s *stats) String() string {
	elapsed := time.Since(s.startTime).Truncate(time.Millisecond)
	verified := s.verifiedBytes.Load()
	skipped := s.skippedBytes.Load()
	cached := s.cachedBytes.Load()
	total := verified + skipped + cached
	pct := 0.0
	if s.totalCandidateBytes > 0 {
		pct = min(100, float64(total)/float64(s.totalCandidateBytes)*100)
	}
	if cached > 0 {
		return fmt.Sprintf("Verified %s + cached %s + skipped %s out of %s (%.0f%%), confirmed %d duplicates (%s) in %d sets in %v",
			fmtBytes(verified), fmtBytes(cached), fmtBytes(skipped), fmtBytes(s.totalCandidateBytes),
			pct, s.confirmedCandidates.Load(), fmtBytes(s.confirmedBytes.Load()), s.confirmedSets.Load(), elapsed)
	}
	return fmt.Sprintf("Verified %s + skipped %s out of %s (%.0f%%), confirmed %d duplicates (%s) in %d sets in %v",
		fmtBytes(verified), fmtBytes(skipped), fmtBytes(s.totalCandidateBytes),
		pct, s.confirmedCandidates.Load(), fmtBytes(s.confirmedBytes.Load()), s.confirmedSets.Load(), elapsed)
}

// Result is the output of a verification run.
type Result struct {
	Sets           types.DuplicateSets
	FullCandidates int // Paths that needed a full-content digest
	ReadFailures   int // Sibling groups dropped because they could not be read
	BytesHashed    int64
	BytesFromCache int64
}

// Verifier confirms duplicates among candidate groups using staged hashing.
//
// The verifier is designed for single-use: create with New(), call Run() once.
type Verifier struct {
	// Config (immutable, set by New)
	groups       types.CandidateGroups // Input: candidate groups from screener
	alg          hasher.Algorithm      // Digest used for both stages
	window       int64                 // Partial window in bytes (0 = partial stage disabled)
	workers      int                   // Max concurrent file reads
	showProgress bool                  // Whether to display progress bar
	errCh        chan error            // Non-fatal errors (read failures)
	cache        *cache.Cache          // Optional digest cache (nil = disabled)

	// Runtime (initialized in Run)
	ctx       context.Context
	jobCh     chan job                // Jobs to process
	resultsCh chan types.DuplicateSet // Output: confirmed duplicate sets
	workerSem types.Semaphore         // Limits concurrent file reads
	pending   sync.WaitGroup          // Tracks pending jobs
	workerWg  sync.WaitGroup          // Tracks worker goroutines
	bar       *progress.Bar           // Progress display (thread-safe)
	stats     *stats                  // Progress tracking
}

// New creates a Verifier for confirming duplicates among candidate groups.
// A window of 0 disables the partial stage. Pass nil for cache to disable caching.
func New(groups types.CandidateGroups, alg hasher.Algorithm, window int64, workers int, showProgress bool, errCh chan error, digestCache *cache.Cache) *Verifier {
	return &Verifier{
		groups:       groups,
		alg:          alg,
		window:       max(0, window),
		workers:      max(1, workers),
		showProgress: showProgress,
		errCh:        errCh,
		cache:        digestCache,
	}
}

// Run executes staged verification and returns confirmed duplicate sets.
//
// Coordination sequence:
//  1. Initialize runtime fields (channels, semaphore, progress)
//  2. Start N worker goroutines (consume from queue)
//  3. Queue initial jobs (one per candidate group)
//  4. Goroutine: Wait for pending jobs → close queue
//  5. Goroutine: Wait for workers → close results
//  6. Collect confirmed duplicates from results channel
//
// Returns ctx.Err() if the context was canceled; partial results are discarded.
func (v *Verifier) Run(ctx context.Context) (Result, error) {
	if v.groups.Len() == 0 {
		return Result{Sets: types.NewDuplicateSets(nil)}, ctx.Err()
	}

	var totalCandidateBytes uint64
	for _, cg := range v.groups.Items() {
		totalCandidateBytes += uint64(cg.First().First().Size) * uint64(cg.Len())
	}

	v.ctx = ctx
	v.jobCh = make(chan job, 1000)
	v.resultsCh = make(chan types.DuplicateSet, 100)
	v.workerSem = types.NewSemaphore(v.workers)
	v.bar = progress.New(v.showProgress, -1)
	v.stats = &stats{totalCandidateBytes: totalCandidateBytes, startTime: time.Now()}
	v.bar.Describe(v.stats)

	for i := 0; i < v.workers; i++ {
		v.workerWg.Add(1)
		go func() {
			defer v.workerWg.Done()
			for j := range v.jobCh {
				v.processJob(j)
			}
		}()
	}

	v.pending.Add(v.groups.Len())
	go func() {
		for _, candidateGroup := range v.groups.Items() {
			v.jobCh <- v.initialJob(candidateGroup)
		}
	}()

	go func() {
		v.pending.Wait()
		close(v.jobCh)
	}()

	go func() {
		v.workerWg.Wait()
		close(v.resultsCh)
	}()

	var sets []types.DuplicateSet
	for set := range v.resultsCh {
		sets = append(sets, set)
		v.stats.confirmedCandidates.Add(int64(set.Len() - 1))
		v.stats.confirmedBytes.Add(uint64(set.Reclaimable()))
		v.stats.confirmedSets.Add(1)
		v.bar.Describe(v.stats)
	}

	v.bar.Finish(v.stats)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := Result{
		Sets:           types.NewDuplicateSets(sets),
		FullCandidates: int(v.stats.fullCandidates.Load()),
		ReadFailures:   int(v.stats.readErrors.Load()),
		BytesHashed:    int64(v.stats.verifiedBytes.Load()),
		BytesFromCache: int64(v.stats.cachedBytes.Load()),
	}
	log.Info("verification complete",
		"sets", result.Sets.Len(),
		"fullCandidates", result.FullCandidates,
		"readFailures", result.ReadFailures,
		"hashed", fmtBytes(uint64(result.BytesHashed)),
		"elapsed", time.Since(v.stats.startTime).Round(time.Millisecond))
	return result, nil
}

// initialJob picks the starting stage for a candidate group.
func (v *Verifier) initialJob(cg types.CandidateGroup) job {
	if v.window > 0 && cg.First().First().Size > v.window {
		return job{siblings: cg, stage: stagePartial}
	}
	v.countFull(cg)
	return job{siblings: cg, stage: stageFull}
}

func (v *Verifier) countFull(cg types.CandidateGroup) {
	for _, sg := range cg.Items() {
		v.stats.fullCandidates.Add(int64(sg.Len()))
	}
}

// hashResult pairs a sibling group with its computed digest for aggregation.
type hashResult struct {
	digest   string
	siblings types.SiblingGroup
}

// verifyFilesInJob hashes one representative per sibling group with
// semaphore-limited concurrency and returns sibling groups keyed by digest.
// Groups that fail to hash are left out.
func (v *Verifier) verifyFilesInJob(j job) map[string][]types.SiblingGroup {
	results := make(chan hashResult, j.siblings.Len())
	var wg sync.WaitGroup

	for _, siblings := range j.siblings.Items() {
		wg.Add(1)
		go func(sibs types.SiblingGroup) {
			defer wg.Done()
			v.workerSem.Acquire()
			defer v.workerSem.Release()

			if v.ctx.Err() != nil {
				return
			}
			if digest, ok := v.digest(sibs.First(), j.stage); ok {
				results <- hashResult{digest, sibs}
			}
		}(siblings)
	}
	wg.Wait()
	close(results)

	byDigest := make(map[string][]types.SiblingGroup)
	for r := range results {
		byDigest[r.digest] = append(byDigest[r.digest], r.siblings)
	}
	return byDigest
}

// digest returns the stage digest for rep, from cache or disk.
func (v *Verifier) digest(rep *types.FileInfo, s stage) (string, bool) {
	limit := int64(-1)
	length := rep.Size
	if s == stagePartial {
		limit, length = v.window, v.window
	}

	if cached, err := v.cache.Lookup(v.alg.Name, rep, 0, length); err != nil {
		log.Debug("cache lookup failed", logging.KeyPath, rep.Path, logging.KeyError, err)
	} else if cached != "" {
		v.stats.cachedBytes.Add(uint64(min(length, rep.Size)))
		v.bar.Describe(v.stats)
		return cached, true
	}

	digest, n, err := sumFile(v.alg, rep.Path, limit)
	if err != nil && retryable(err) {
		log.Debug("retrying read", logging.KeyPath, rep.Path, logging.KeyError, err)
		digest, n, err = sumFile(v.alg, rep.Path, limit)
	}
	if err != nil {
		v.stats.readErrors.Add(1)
		v.sendError(types.NewPathError(types.ReadFailure, rep.Path, err))
		return "", false
	}
	log.Debug("hashed", logging.KeyPath, rep.Path, "stage", s.String(), "bytes", n)

	if err := v.cache.Store(v.alg.Name, rep, 0, length, digest); err != nil {
		log.Debug("cache store failed", logging.KeyPath, rep.Path, logging.KeyError, err)
	}
	v.stats.verifiedBytes.Add(uint64(n))
	v.bar.Describe(v.stats)
	return digest, true
}

// retryable reports whether a read failure may be transient.
func retryable(err error) bool {
	return !errors.Is(err, fs.ErrPermission) && !errors.Is(err, fs.ErrNotExist)
}

// processJob hashes sibling groups, splits them by digest, and routes results.
//
// For each digest group with 2+ sibling groups:
//   - after the full stage → send to results channel (confirmed duplicates)
//   - after the partial stage → queue a full-stage job (pending.Add + queue send)
func (v *Verifier) processJob(j job) {
	defer v.pending.Done()

	if v.ctx.Err() != nil {
		return
	}

	for digest, rawSiblings := range v.verifyFilesInJob(j) {
		candidateGroup := types.NewCandidateGroup(rawSiblings)
		size := candidateGroup.First().First().Size
		if candidateGroup.Len() < 2 {
			if j.stage == stagePartial {
				v.stats.skippedBytes.Add(uint64(size - v.window))
				v.bar.Describe(v.stats)
			}
			continue
		}
		if j.stage == stageFull {
			v.resultsCh <- types.NewDuplicateSet(size, digest, candidateGroup.Items())
			continue
		}
		v.countFull(candidateGroup)
		v.pending.Add(1)
		// Sent from a goroutine so a full queue cannot stall every worker.
		go func(next job) { v.jobCh <- next }(job{siblings: candidateGroup, stage: stageFull})
	}
}

// sendError sends an error to the errors channel if it's not nil.
func (v *Verifier) sendError(err error) {
	if v.errCh != nil {
		v.errCh <- err
	}
}
