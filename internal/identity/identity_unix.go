//go:build unix

package identity

import (
	"io/fs"
	"syscall"

	"github.com/dupereap/dupereap/internal/types"
)

// Supported reports whether this platform exposes file identities.
const Supported = true

// native reads dev+ino from the stat data the walker already has.
type native struct {
	fallback *None
}

func newNative() Resolver { return &native{fallback: NewNone()} }

func (n *native) Resolve(path string, info fs.FileInfo) (types.Identity, uint32) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return n.fallback.Resolve(path, info)
	}
	return types.Identity{
		Dev: uint64(stat.Dev), //nolint:unconvert // platform-dependent type
		Ino: uint64(stat.Ino), //nolint:unconvert // platform-dependent type
	}, uint32(stat.Nlink) //nolint:gosec // link counts fit in uint32
}
