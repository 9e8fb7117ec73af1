//go:build unix

package reaper

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// removeWhileOpen is true where an open (and locked) file can be unlinked.
const removeWhileOpen = true

// lock takes a non-blocking exclusive advisory lock on f.
// The lock is released when f is closed.
func lock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrInUse
	}
	return err
}
