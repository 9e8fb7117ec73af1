//go:build windows

package identity

import (
	"io/fs"

	"golang.org/x/sys/windows"

	"github.com/dupereap/dupereap/internal/types"
)

// Supported reports whether this platform exposes file identities.
const Supported = true

// native reads the NTFS volume serial and file index of each path.
// os.FileInfo does not carry them, so every call opens a handle.
type native struct {
	fallback *None
}

func newNative() Resolver { return &native{fallback: NewNone()} }

func (n *native) Resolve(path string, info fs.FileInfo) (types.Identity, uint32) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return n.fallback.Resolve(path, info)
	}
	h, err := windows.CreateFile(p, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return n.fallback.Resolve(path, info)
	}
	defer func() { _ = windows.CloseHandle(h) }()

	var d windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &d); err != nil {
		return n.fallback.Resolve(path, info)
	}
	return types.Identity{
		Dev: uint64(d.VolumeSerialNumber),
		Ino: uint64(d.FileIndexHigh)<<32 | uint64(d.FileIndexLow),
	}, d.NumberOfLinks
}
