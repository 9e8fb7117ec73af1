//go:build !unix

package reaper

import "os"

// Windows refuses to delete open files, so the handle is closed first.
const removeWhileOpen = false

// lock is a no-op; sharing violations surface from os.Remove instead.
func lock(*os.File) error { return nil }
