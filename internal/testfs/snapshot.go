//go:build unix

package testfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
)

// -----------------------------------------------------------------------------
// Capture Operations - Read filesystem state
// -----------------------------------------------------------------------------

// Capture walks each directory (relative to base) and records its regular
// files grouped by inode, plus its symlinks. Paths in the result are relative
// to the directory they were found in.
func Capture(base string, dirs []string) (*Snapshot, error) {
	snap := &Snapshot{}
	for _, dir := range dirs {
		state, err := captureRoot(base, dir)
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", dir, err)
		}
		snap.Roots = append(snap.Roots, state)
	}
	return snap, nil
}

// captureRoot collects files and symlinks from a single directory tree.
func captureRoot(base, dir string) (RootState, error) {
	state := RootState{Dir: dir}
	rootPath := filepath.Join(base, dir)

	byInode := make(map[inodeID]*FileState)
	var order []inodeID

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			state.Symlinks = append(state.Symlinks, Symlink{Path: rel, Target: target})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return fmt.Errorf("no inode information for %s", path)
		}

		key := inodeID{dev: uint64(stat.Dev), ino: stat.Ino} //nolint:unconvert // Dev is int32 on darwin
		if fsState, ok := byInode[key]; ok {
			fsState.Path = append(fsState.Path, rel)
			return nil
		}
		byInode[key] = &FileState{
			Path:  []string{rel},
			Dev:   key.dev,
			Inode: key.ino,
			Nlink: uint64(stat.Nlink), //nolint:unconvert // Nlink is uint16 on darwin
			Size:  info.Size(),
		}
		order = append(order, key)
		return nil
	})
	if err != nil {
		return state, err
	}

	for _, key := range order {
		fsState := byInode[key]
		slices.Sort(fsState.Path)
		state.Files = append(state.Files, *fsState)
	}
	slices.SortFunc(state.Files, func(a, b FileState) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return state, nil
}
