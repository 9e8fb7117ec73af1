// Package screener screens files to find duplicate candidates.
//
// # Overview
//
// The screener is the first filtering stage in the duplicate detection pipeline.
// It buckets files by exact size and then by identity (sibling groups),
// producing candidate groups for the more expensive hashing stages.
//
// # Processing Pipeline
//
//	Input: []*types.FileInfo (all scanned files, discovery order)
//	    │
//	    ├──► Bucket by file size (buckets of one path are pruned)
//	    │
//	    ├──► Group by identity (preserves all paths as SiblingGroups)
//	    │
//	    ├──► Record sibling groups with 2+ paths as hardlink groups
//	    │
//	    ├──► Filter: keep buckets with 2+ physical files
//	    │
//	    └──► Output: Result{Candidates, Hardlinks}
//
// A bucket whose paths are all hardlinks of one file cannot hold a duplicate;
// it only shows up in Hardlinks. Everything here is metadata-only and
// single-threaded.
package screener

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/progress"
	"github.com/dupereap/dupereap/internal/types"
)

var log = logging.L("screener")

// Screener screens files by size to find potential duplicates.
//
// The screener is designed for single-use: create with New(), call Run() once.
type Screener struct {
	files        []*types.FileInfo // Files to screen for duplicates
	showProgress bool              // Whether to display progress bar
}

// New creates a Screener for finding duplicate candidates.
func New(files []*types.FileInfo, showProgress bool) *Screener {
	return &Screener{
		files:        files,
		showProgress: showProgress,
	}
}

// Result is the output of a screening run.
type Result struct {
	Candidates types.CandidateGroups // Size buckets with 2+ physical files
	Hardlinks  []types.SiblingGroup  // Identities reached through 2+ paths, candidates included
}

// stats tracks screening progress.
type stats struct {
	buckets        int
	candidateFiles int
	candidateBytes int64
	hardlinkGroups int
	startTime      time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Selected %d candidates (%s) in %d size buckets, %d hardlink groups in %.1fs",
		s.candidateFiles, humanize.IBytes(uint64(s.candidateBytes)), s.buckets, s.hardlinkGroups,
		time.Since(s.startTime).Seconds())
}

// Run screens files and returns candidate groups and hardlink groups.
//
// Processing steps:
//  1. Bucket files by size (different sizes can't be duplicates)
//  2. Group each bucket by identity into sibling groups
//  3. Keep buckets with 2+ sibling groups (potential duplicates)
func (s *Screener) Run() Result {
	bar := progress.New(s.showProgress, -1)
	st := &stats{startTime: time.Now()}

	var result Result
	var candidates []types.CandidateGroup
	for _, files := range Bucket(s.files) {
		siblings := groupByIdentity(files)
		for _, sg := range siblings.Items() {
			if sg.Len() >= 2 {
				result.Hardlinks = append(result.Hardlinks, sg)
			}
		}
		if siblings.Len() >= 2 {
			candidates = append(candidates, siblings)
		}
	}
	result.Candidates = types.NewCandidateGroups(candidates)
	result.Hardlinks = types.NewSorted(result.Hardlinks, func(sg types.SiblingGroup) int {
		return sg.First().Index
	}).Items()

	st.buckets = result.Candidates.Len()
	st.hardlinkGroups = len(result.Hardlinks)
	for _, group := range result.Candidates.Items() {
		st.candidateFiles += group.Len()
		st.candidateBytes += group.First().First().Size * int64(group.Len())
	}

	bar.Finish(st)
	log.Info("screening complete",
		"buckets", st.buckets,
		"candidates", st.candidateFiles,
		"hardlinkGroups", st.hardlinkGroups)

	return result
}

// Bucket partitions files by exact size and drops buckets with a single path.
// Members keep the order of the input slice.
func Bucket(files []*types.FileInfo) map[int64][]*types.FileInfo {
	bySize := make(map[int64][]*types.FileInfo)
	for _, f := range files {
		bySize[f.Size] = append(bySize[f.Size], f)
	}
	for size, members := range bySize {
		if len(members) < 2 {
			delete(bySize, size)
		}
	}
	return bySize
}

// groupByIdentity groups same-size files into sibling groups.
// Files with equal resolved identity are hardlinks and share a group;
// unresolved identities are unique, so such files stand alone.
func groupByIdentity(files []*types.FileInfo) types.CandidateGroup {
	byID := make(map[types.Identity][]*types.FileInfo)
	for _, f := range files {
		byID[f.Identity] = append(byID[f.Identity], f)
	}

	siblings := make([]types.SiblingGroup, 0, len(byID))
	for _, members := range byID {
		siblings = append(siblings, types.NewSiblingGroup(members))
	}

	// Map iteration is random; the constructor restores discovery order.
	return types.NewCandidateGroup(siblings)
}
