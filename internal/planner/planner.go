// Package planner chooses which copy of each duplicate set survives.
//
// Planning is pure: it reads only the metadata captured during the scan and
// never touches the filesystem. Every strategy breaks ties by discovery
// index, so the keeper of a set is the same for any worker count.
package planner

import (
	"strings"
	"unicode/utf8"

	"github.com/dupereap/dupereap/internal/types"
)

// Strategy selects the keeper of a duplicate set.
type Strategy int

const (
	First    Strategy = iota // Earliest in discovery order
	Oldest                   // Smallest modification time
	Newest                   // Largest modification time
	Shortest                 // Shortest path
	Longest                  // Longest path
)

var strategyNames = []string{"first", "oldest", "newest", "shortest", "longest"}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "unknown"
	}
	return strategyNames[s]
}

// MarshalText encodes the strategy by name for JSON and YAML reports.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Strategies returns the accepted strategy names.
func Strategies() []string { return append([]string(nil), strategyNames...) }

// ParseStrategy returns the strategy named s (case-insensitive).
// Unknown names wrap types.ErrInvalidConfig.
func ParseStrategy(s string) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return First, types.InvalidConfigf("unknown strategy %q (available: %s)",
		s, strings.Join(strategyNames, ", "))
}

// Decision is the retention plan for one duplicate set.
type Decision struct {
	Set         types.DuplicateSet
	Keep        *types.FileInfo   // Survivor
	Linked      []*types.FileInfo // Hardlinks of the keeper, left in place
	Delete      []*types.FileInfo // Paths to remove, discovery order
	Reclaimable int64             // Bytes freed once every Delete path is gone
}

// Plan picks the keeper of set and lists everything else for deletion,
// except paths that are hardlinks of the keeper (removing them frees nothing).
func Plan(set types.DuplicateSet, strategy Strategy) Decision {
	files := set.Files()
	keep := files[0]
	for _, f := range files[1:] {
		if better(strategy, f, keep) {
			keep = f
		}
	}

	d := Decision{Set: set, Keep: keep}
	for _, f := range files {
		switch {
		case f == keep:
		case types.SameFile(f, keep):
			d.Linked = append(d.Linked, f)
		default:
			d.Delete = append(d.Delete, f)
		}
	}

	// Every sibling group other than the keeper's is removed in full.
	d.Reclaimable = set.Reclaimable()
	return d
}

// PlanAll plans every set in order.
func PlanAll(sets types.DuplicateSets, strategy Strategy) []Decision {
	decisions := make([]Decision, 0, sets.Len())
	for _, set := range sets.Items() {
		decisions = append(decisions, Plan(set, strategy))
	}
	return decisions
}

// better reports whether a should replace the current keeper b.
// Files arrive in discovery order, so strict comparisons keep the earlier
// file on ties; the explicit Index check guards callers that do not.
func better(s Strategy, a, b *types.FileInfo) bool {
	var c int
	switch s {
	case Oldest:
		c = a.ModTime.Compare(b.ModTime)
	case Newest:
		c = b.ModTime.Compare(a.ModTime)
	case Shortest:
		c = utf8.RuneCountInString(a.Path) - utf8.RuneCountInString(b.Path)
	case Longest:
		c = utf8.RuneCountInString(b.Path) - utf8.RuneCountInString(a.Path)
	}
	if c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}
