// Package types provides shared types used across the dupereap codebase.
package types

import (
	"cmp"
	"slices"
	"time"
)

// Identity identifies the physical file behind a path.
//
// Two paths with equal Identity are hardlinks to the same data. Resolvers
// that cannot determine identity hand out keys with a non-zero Serial, which
// are unique per call and therefore never equal to any other key.
type Identity struct {
	Dev    uint64
	Ino    uint64
	Serial uint64
}

// Resolved reports whether the key came from real filesystem metadata.
func (id Identity) Resolved() bool { return id.Serial == 0 }

// FileInfo holds metadata for a scanned file.
//
// Index is the discovery position assigned by the scanner. It is the
// tie-breaker for every ordering decision downstream, so results do not
// depend on worker scheduling.
type FileInfo struct {
	Index    int
	Path     string
	Size     int64
	ModTime  time.Time
	Identity Identity
	Nlink    uint32
}

// SameFile reports whether a and b are hardlinks to the same data.
func SameFile(a, b *FileInfo) bool {
	return a.Identity.Resolved() && a.Identity == b.Identity
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// SiblingGroup contains paths sharing the same Identity (hardlinks).
// Files are sorted by discovery index.
type SiblingGroup = Sorted[*FileInfo, int]

// NewSiblingGroup creates a SiblingGroup sorted by discovery index.
func NewSiblingGroup(files []*FileInfo) SiblingGroup {
	return NewSorted(files, func(f *FileInfo) int { return f.Index })
}

// CandidateGroup contains sibling groups with the same size (potential duplicates).
// Sorted by the discovery index of each sibling group's first file.
type CandidateGroup = Sorted[SiblingGroup, int]

// NewCandidateGroup creates a CandidateGroup sorted by first file's index.
func NewCandidateGroup(siblings []SiblingGroup) CandidateGroup {
	return NewSorted(siblings, func(sg SiblingGroup) int { return sg.First().Index })
}

// CandidateGroups is a sorted collection of candidate groups.
type CandidateGroups = Sorted[CandidateGroup, int]

// NewCandidateGroups creates sorted CandidateGroups.
func NewCandidateGroups(groups []CandidateGroup) CandidateGroups {
	return NewSorted(groups, func(cg CandidateGroup) int {
		return cg.First().First().Index
	})
}

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
