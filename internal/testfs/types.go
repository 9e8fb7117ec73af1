// Package testfs builds declarative file trees for tests and checks what is
// left of them after dupereap has run.
//
// # FileTree Specification
//
// Tests use a single FileTree type for both setup and verification:
//
//	given := testfs.FileTree{
//	    Roots: []testfs.Root{
//	        {
//	            Dir: "photos",
//	            Files: []testfs.File{
//	                {Path: []string{"a.jpg", "album/a.jpg"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	                {Path: []string{"copy.jpg"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	            },
//	        },
//	    },
//	}
//	then := testfs.FileTree{
//	    Roots: []testfs.Root{
//	        {
//	            Dir:    "photos",
//	            Files:  []testfs.File{{Path: []string{"a.jpg", "album/a.jpg"}}}, // same inode
//	            Absent: []string{"copy.jpg"},
//	        },
//	    },
//	}
//
// Subdirectories are created automatically from file paths (mkdir -p semantics).
// File paths are relative to their root directory.
//
//	h := testfs.New(t, given)
//	report, err := finder.Find(ctx, opts(h.Roots()...), nil)
//	// ... plan and reap
//	h.Assert(then)
//
// # Context-Dependent Field Usage
//
//	| Field          | Setup                 | Verification          |
//	|----------------|-----------------------|-----------------------|
//	| Roots          | Creates directories   | Scope for assertions  |
//	| File.Path      | Create file/links     | Assert same inode     |
//	| File.Chunks    | Generate content      | Ignored               |
//	| File.ModTime   | Set mtime if non-zero | Ignored               |
//	| Symlink.Path   | Create symlink        | Assert is symlink     |
//	| Symlink.Target | Symlink target        | Assert symlink target |
//	| Root.Absent    | Ignored               | Assert path is gone   |
package testfs

import (
	"time"

	"github.com/dustin/go-humanize"
)

// -----------------------------------------------------------------------------
// FileTree Specification Types
// -----------------------------------------------------------------------------

// FileTree describes a filesystem state (used for both setup and verification).
type FileTree struct {
	// Roots are scan roots, in the order they are handed to the scanner.
	Roots []Root
}

// Root is a directory tree passed to dupereap as one scan root.
type Root struct {
	// Dir is relative to the harness base directory, e.g. "photos" or "a/b".
	Dir string

	// Files in this root (regular files, possibly hardlinked).
	Files []File

	// Symlinks in this root.
	Symlinks []Symlink

	// Absent lists paths that must no longer exist (verification only).
	Absent []string
}

// File defines a regular file, possibly with hardlinks.
//
// In setup context:
//   - Path[0] is created with content from Chunks specification
//   - Path[1:] are hardlinked to Path[0]
//   - ModTime, when set, is applied to the shared inode
//
// In verification context:
//   - All paths must exist
//   - All paths must share the same inode
//
// Content is specified via Chunks - each chunk fills a region with its pattern byte.
// Same chunks = same content = duplicates detected.
type File struct {
	// Path contains one or more paths (relative to the root).
	// Multiple paths indicate hardlinks sharing the same inode.
	Path []string

	// Chunks specifies file content as a sequence of filled regions.
	Chunks []Chunk

	// ModTime overrides the modification time when non-zero.
	ModTime time.Time
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	Pattern rune

	// Size accepts SI and IEC units: "100", "1KB", "64KiB", "1MiB".
	// IEC sizes line up exactly with the partial-hash window.
	Size string
}

// TotalSize calculates the sum of all chunk sizes in bytes.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Symlink defines a symbolic link.
type Symlink struct {
	// Path is relative to the root.
	Path string

	// Target is written verbatim; relative targets resolve from the link's directory.
	Target string
}

// -----------------------------------------------------------------------------
// Snapshot Types (filesystem state captured after a run)
// -----------------------------------------------------------------------------

// Snapshot is the captured state of a set of roots.
type Snapshot struct {
	Roots []RootState
}

// RootState is the captured state of one root directory.
type RootState struct {
	Dir      string
	Files    []FileState // Regular files, grouped by inode
	Symlinks []Symlink
}

// FileState describes one inode and every path that reaches it.
type FileState struct {
	Path  []string // All paths sharing this inode, sorted
	Dev   uint64
	Inode uint64
	Nlink uint64
	Size  int64
}
