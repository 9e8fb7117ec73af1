package testfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// -----------------------------------------------------------------------------
// Sow Operations - Create filesystem from spec
// -----------------------------------------------------------------------------

// Sow creates a filesystem structure from a FileTree specification.
// Each root's Dir becomes a directory under base.
func Sow(base string, spec FileTree) error {
	for _, root := range spec.Roots {
		if err := sowRoot(base, root); err != nil {
			return fmt.Errorf("sow root %s: %w", root.Dir, err)
		}
	}
	return nil
}

// sowRoot creates all files and symlinks in a root.
func sowRoot(base string, root Root) error {
	dir := filepath.Join(base, root.Dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create root dir: %w", err)
	}

	for _, f := range root.Files {
		if err := sowFile(dir, f); err != nil {
			return err
		}
	}

	for _, sym := range root.Symlinks {
		linkPath := filepath.Join(dir, sym.Path)
		if err := createSymlink(sym.Target, linkPath); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", linkPath, sym.Target, err)
		}
	}
	return nil
}

// sowFile creates a single file entry (with optional hardlinks).
func sowFile(dir string, f File) error {
	if len(f.Path) == 0 {
		return nil
	}

	firstPath := filepath.Join(dir, f.Path[0])
	if err := writeChunkedFile(firstPath, f.Chunks); err != nil {
		return fmt.Errorf("create %s: %w", firstPath, err)
	}

	for _, p := range f.Path[1:] {
		linkPath := filepath.Join(dir, p)
		if err := createHardlink(firstPath, linkPath); err != nil {
			return fmt.Errorf("hardlink %s -> %s: %w", linkPath, firstPath, err)
		}
	}

	// mtime lives on the inode, so one call covers every link
	if !f.ModTime.IsZero() {
		if err := os.Chtimes(firstPath, f.ModTime, f.ModTime); err != nil {
			return fmt.Errorf("set mtime %s: %w", firstPath, err)
		}
	}
	return nil
}

// writeChunkedFile streams content directly to disk.
func writeChunkedFile(path string, chunks []Chunk) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, c := range chunks {
		if err := writeChunk(f, c); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk writes a single chunk to the file using streaming.
func writeChunk(f *os.File, c Chunk) error {
	const maxBufSize = 1 << 20

	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return fmt.Errorf("parse chunk size %q: %w", c.Size, err)
	}

	buf := bytes.Repeat([]byte{byte(c.Pattern)}, int(min(size, maxBufSize)))

	remaining := int64(size)
	for remaining > 0 {
		n := min(remaining, int64(len(buf)))
		if _, err := f.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// createHardlink creates a hardlink, creating parent dirs.
func createHardlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Link(target, link)
}

// createSymlink creates a symlink, creating parent dirs.
func createSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, link)
}
