package main

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/dupereap/dupereap/internal/logging"
)

// spaceChange records free bytes on the first root's filesystem around a
// reap. Zero means unknown.
type spaceChange struct {
	Before uint64
	After  uint64
}

// Known reports whether both samples were taken.
func (s spaceChange) Known() bool { return s.Before > 0 && s.After > 0 }

// freeSpace returns the bytes available on the filesystem of the first
// root, or 0 if it cannot be determined.
func freeSpace(roots []string) uint64 {
	if len(roots) == 0 {
		return 0
	}
	usage, err := disk.Usage(roots[0])
	if err != nil {
		log.Debug("free space unavailable", logging.KeyPath, roots[0], logging.KeyError, err)
		return 0
	}
	return usage.Free
}
