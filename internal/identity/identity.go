// Package identity maps files to the physical object behind them.
//
// Two paths get equal identities if and only if they are hardlinks to the
// same data. Platforms that cannot tell (or callers that opt out) use the
// None resolver, whose keys never match, which only costs the hardlink-aware
// savings correction and never affects duplicate detection.
package identity

import (
	"io/fs"
	"sync/atomic"

	"github.com/dupereap/dupereap/internal/types"
)

// Resolver returns the identity and link count for a scanned file.
// Implementations must be safe for concurrent use by walker goroutines.
type Resolver interface {
	Resolve(path string, info fs.FileInfo) (id types.Identity, nlink uint32)
}

// None hands out identities that are never equal to any other.
type None struct {
	serial atomic.Uint64
}

// NewNone creates a resolver without hardlink detection.
func NewNone() *None { return &None{} }

// Resolve returns a fresh unresolved identity and an unknown link count.
func (n *None) Resolve(string, fs.FileInfo) (types.Identity, uint32) {
	return types.Identity{Serial: n.serial.Add(1)}, 0
}

// New returns the platform resolver when enabled and supported, None otherwise.
func New(enabled bool) Resolver {
	if !enabled || !Supported {
		return NewNone()
	}
	return newNative()
}
