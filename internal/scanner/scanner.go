// Package scanner provides parallel filesystem scanning for duplicate detection.
//
// # Architecture Overview
//
// The scanner uses a concurrent fan-out/fan-in architecture to traverse
// directory trees while bounding the number of directories read at once.
//
// # Concurrency Model
//
//  1. WALKER GOROUTINES (fan-out)
//     - One goroutine spawned per directory discovered
//     - Concurrency limited by semaphore (walkerSem)
//     - Each walker: acquires semaphore → lists directory → releases semaphore → spawns child walkers
//
//  2. COLLECTOR GOROUTINE (fan-in)
//     - Single goroutine that drains resultCh into a slice
//
//  3. MAIN GOROUTINE (orchestrator)
//     - Verifies every root is a readable directory (fatal otherwise)
//     - Spawns initial walkers, waits for them, closes resultCh, waits for collector
//     - Orders results and assigns discovery indexes
//
// # Discovery Order
//
// Walkers finish in arbitrary order, so the collected files are sorted by
// (root position, path) and numbered afterwards. The resulting Index is the
// discovery order used by every later stage, which makes keeper selection
// independent of the worker count. Paths reached from two overlapping roots
// are kept once.
//
// # Errors
//
// Unreadable directories and entries are sent to errCh as AccessDenied
// PathErrors and the walk continues. Only an unreachable root is fatal.
//
// # Non-regular Entries
//
// Symlinks are never followed and never reported as candidates, whatever they
// point to. Symlinks, devices, sockets and FIFOs are not errors: each one is
// counted in the skipped stat and logged at debug level with its reason.
package scanner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dupereap/dupereap/internal/identity"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/progress"
	"github.com/dupereap/dupereap/internal/types"
)

var log = logging.L("scanner")

// Scanner discovers files matching filter criteria using parallel directory traversal.
//
// The scanner is designed for single-use: create with New(), call Run() once.
type Scanner struct {
	// Config (immutable, set by New)
	paths        []string          // Root paths to scan
	minSize      int64             // Minimum file size filter (bytes)
	excludes     []string          // Glob patterns for basename exclusion
	workers      int               // Max concurrent directory reads
	resolver     identity.Resolver // Hardlink identity source
	showProgress bool              // Whether to display progress bar
	errCh        chan error        // Non-fatal errors (permission denied, etc.)

	// Runtime (initialized in Run)
	ctx       context.Context
	walkerWg  sync.WaitGroup  // Tracks in-flight walker goroutines
	walkerSem types.Semaphore // Limits concurrent directory reads
	resultCh  chan found      // Fan-in channel: walkers → collector
	stats     *stats          // Atomic counters for progress tracking
	bar       *progress.Bar   // Progress display (thread-safe)
}

// found is a matched file tagged with the position of the root it was reached from.
type found struct {
	root int
	file *types.FileInfo
}

// New creates a Scanner for discovering files.
// A nil resolver disables hardlink detection.
func New(paths []string, minSize int64, excludes []string, workers int, resolver identity.Resolver, showProgress bool, errCh chan error) *Scanner {
	if resolver == nil {
		resolver = identity.NewNone()
	}
	return &Scanner{
		paths:        paths,
		minSize:      minSize,
		excludes:     excludes,
		workers:      max(1, workers),
		resolver:     resolver,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// stats tracks scanning progress using atomic counters for lock-free updates.
type stats struct {
	scannedFiles atomic.Int64 // Regular files discovered (all walkers)
	matchedFiles atomic.Int64 // Files passing size/exclude filters
	skipped      atomic.Int64 // Symlinks, devices, sockets, FIFOs
	errors       atomic.Int64 // Entries that could not be read
	scannedBytes atomic.Int64
	matchedBytes atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %d (%s), matched %d files (%s), %d errors in %.1fs",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())),
		s.matchedFiles.Load(), humanize.IBytes(uint64(s.matchedBytes.Load())),
		s.errors.Load(), time.Since(s.startTime).Seconds())
}

// Run executes the scan and returns matching files in discovery order.
//
// Returns an error wrapping types.ErrRootUnreachable if any root cannot be
// opened as a directory, and ctx.Err() if the scan was canceled.
func (s *Scanner) Run(ctx context.Context) ([]*types.FileInfo, error) {
	roots, err := s.resolveRoots()
	if err != nil {
		return nil, err
	}

	s.ctx = ctx
	s.walkerSem = types.NewSemaphore(s.workers)
	s.bar = progress.New(s.showProgress, -1)
	s.stats = &stats{startTime: time.Now()}
	s.bar.Describe(s.stats)
	s.resultCh = make(chan found, 1000)

	var results []found
	collectorWg := sync.WaitGroup{}
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for r := range s.resultCh {
			results = append(results, r)
		}
	}()

	for i, root := range roots {
		s.walkDirectory(i, root)
	}

	s.walkerWg.Wait()
	close(s.resultCh)
	collectorWg.Wait()

	s.bar.Finish(s.stats)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := order(results)
	log.Info("scan complete",
		"files", len(files),
		"skipped", s.stats.skipped.Load(),
		"errors", s.stats.errors.Load(),
		"elapsed", time.Since(s.stats.startTime).Round(time.Millisecond))
	return files, nil
}

// resolveRoots makes roots absolute and checks that each is a readable directory.
func (s *Scanner) resolveRoots() ([]string, error) {
	if len(s.paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", types.ErrRootUnreachable)
	}
	roots := make([]string, 0, len(s.paths))
	for _, p := range s.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrRootUnreachable, p, err)
		}
		dir, err := os.Open(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrRootUnreachable, err)
		}
		info, err := dir.Stat()
		_ = dir.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrRootUnreachable, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s: not a directory", types.ErrRootUnreachable, abs)
		}
		roots = append(roots, abs)
	}
	return roots, nil
}

// order sorts files by (root, path), drops paths seen twice through
// overlapping roots, and assigns discovery indexes.
func order(results []found) []*types.FileInfo {
	slices.SortFunc(results, func(a, b found) int {
		if c := cmp.Compare(a.root, b.root); c != 0 {
			return c
		}
		return cmp.Compare(a.file.Path, b.file.Path)
	})

	seen := make(map[string]struct{}, len(results))
	files := make([]*types.FileInfo, 0, len(results))
	for _, r := range results {
		if _, dup := seen[r.file.Path]; dup {
			continue
		}
		seen[r.file.Path] = struct{}{}
		r.file.Index = len(files)
		files = append(files, r.file)
	}
	return files
}

// walkDirectory spawns a goroutine to process one directory and recursively spawn children.
//
// Semaphore pattern:
//   - walkerWg.Add(1) BEFORE goroutine spawn (prevents race with Wait)
//   - acquire semaphore at goroutine start (blocks if at concurrency limit)
//   - release semaphore after listing, before spawning children
func (s *Scanner) walkDirectory(root int, dir string) {
	s.walkerWg.Add(1)
	go func() {
		defer s.walkerWg.Done()

		if s.ctx.Err() != nil {
			return
		}

		s.walkerSem.Acquire()
		files, subdirs, err := s.listDirectory(dir)
		s.walkerSem.Release()
		if err != nil {
			s.stats.errors.Add(1)
			s.sendError(types.NewPathError(types.AccessDenied, dir, err))
		}

		for _, f := range files {
			s.stats.scannedFiles.Add(1)
			s.stats.scannedBytes.Add(f.Size)
			if f.Size >= s.minSize && !s.shouldExclude(f.Path) {
				s.resultCh <- found{root: root, file: f}
				s.stats.matchedFiles.Add(1)
				s.stats.matchedBytes.Add(f.Size)
			}
		}
		s.bar.Describe(s.stats)

		for _, sub := range subdirs {
			s.walkDirectory(root, sub)
		}
	}()
}

// listDirectory reads a single directory, returning files and subdirectories.
//
// Uses batched ReadDir (1000 entries per batch) to bound memory on huge
// directories. Entries read before an error are still returned.
func (s *Scanner) listDirectory(dirPath string) (files []*types.FileInfo, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		for _, entry := range entries {
			f, sub := s.processEntry(dirPath, entry)
			if f != nil {
				files = append(files, f)
			}
			if sub != "" {
				subdirs = append(subdirs, sub)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return files, subdirs, err
		}
		if len(entries) == 0 {
			break
		}
	}

	return files, subdirs, nil
}

// processEntry processes a single directory entry, returning a file or subdirectory path.
// Returns (nil, "") for entries that are skipped (symlinks, devices, excluded items).
// Symlinks are never followed, so link cycles cannot occur.
func (s *Scanner) processEntry(dirPath string, entry os.DirEntry) (file *types.FileInfo, subdir string) {
	fullPath := filepath.Join(dirPath, entry.Name())

	if entry.IsDir() {
		if s.shouldExclude(fullPath) {
			return nil, ""
		}
		return nil, fullPath
	}

	if !entry.Type().IsRegular() {
		s.stats.skipped.Add(1)
		log.Debug("skipped", logging.KeyPath, fullPath, "reason", skipReason(entry.Type()))
		return nil, ""
	}

	info, err := entry.Info()
	if err != nil {
		// Vanished between readdir and stat, or not stat-able.
		s.stats.errors.Add(1)
		s.sendError(types.NewPathError(types.AccessDenied, fullPath, err))
		return nil, ""
	}

	id, nlink := s.resolver.Resolve(fullPath, info)
	return &types.FileInfo{
		Path:     fullPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Identity: id,
		Nlink:    nlink,
	}, ""
}

// skipReason names the kind of a non-regular entry.
func skipReason(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode&fs.ModeNamedPipe != 0:
		return "named pipe"
	case mode&fs.ModeSocket != 0:
		return "socket"
	case mode&fs.ModeDevice != 0:
		return "device"
	default:
		return "not a regular file"
	}
}

// sendError sends an error to the errors channel if it's not nil.
func (s *Scanner) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}

// shouldExclude checks if a path's base name matches any glob exclude pattern.
func (s *Scanner) shouldExclude(path string) bool {
	if len(s.excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range s.excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
