package testfs

import "testing"

// -----------------------------------------------------------------------------
// Assertion Functions
// -----------------------------------------------------------------------------

// AssertRoot verifies the captured state of one root matches expected.
//
// Checks:
//   - Files exist at all specified paths
//   - Files in the same File entry share the same inode (hardlinks)
//   - Files in different File entries have different inodes
//   - Symlinks point to the expected targets
//   - Absent paths no longer exist
func AssertRoot(t testing.TB, expected Root, actual RootState) {
	t.Helper()
	AssertFiles(t, expected.Files, actual.Files)
	AssertSymlinks(t, expected.Symlinks, actual.Symlinks)
	AssertAbsent(t, expected.Absent, actual)
}

// AssertFiles verifies expected files exist and hardlinks are correct.
//
// For each File entry:
//   - All paths must exist
//   - All paths must share the same inode (hardlinks)
//   - Different File entries must have different inodes
func AssertFiles(t testing.TB, expected []File, actual []FileState) {
	t.Helper()

	pathToInode := buildPathToInodeMap(actual)
	entryInodes := verifyFileEntries(t, expected, pathToInode)
	verifyUniqueInodes(t, expected, entryInodes)
}

// AssertSymlinks verifies expected symlinks exist with correct targets.
func AssertSymlinks(t testing.TB, expected []Symlink, actual []Symlink) {
	t.Helper()

	pathToTarget := make(map[string]string)
	for _, rs := range actual {
		pathToTarget[rs.Path] = rs.Target
	}

	for _, expectedSym := range expected {
		target, ok := pathToTarget[expectedSym.Path]
		if !ok {
			t.Errorf("expected symlink not found: %s", expectedSym.Path)
			continue
		}
		if target != expectedSym.Target {
			t.Errorf("symlink %s: got target %q, want %q",
				expectedSym.Path, target, expectedSym.Target)
		}
	}
}

// AssertAbsent verifies none of the paths exist as a file or symlink.
func AssertAbsent(t testing.TB, paths []string, actual RootState) {
	t.Helper()
	if len(paths) == 0 {
		return
	}

	present := make(map[string]bool)
	for _, rf := range actual.Files {
		for _, p := range rf.Path {
			present[p] = true
		}
	}
	for _, rs := range actual.Symlinks {
		present[rs.Path] = true
	}

	for _, p := range paths {
		if present[p] {
			t.Errorf("expected %s to be gone, but it still exists", p)
		}
	}
}

// -----------------------------------------------------------------------------
// Helper Functions (unexported)
// -----------------------------------------------------------------------------

// buildPathToInodeMap creates a map from file path to its (dev, inode) key.
func buildPathToInodeMap(files []FileState) map[string]inodeID {
	m := make(map[string]inodeID)
	for _, rf := range files {
		for _, p := range rf.Path {
			m[p] = inodeID{dev: rf.Dev, ino: rf.Inode}
		}
	}
	return m
}

type inodeID struct {
	dev, ino uint64
}

// verifyFileEntries checks that all expected files exist and share inodes correctly.
// Returns a map of entry index to inode for cross-entry uniqueness checking.
func verifyFileEntries(t testing.TB, expected []File, pathToInode map[string]inodeID) map[int]inodeID {
	t.Helper()
	entryInodes := make(map[int]inodeID)

	for i, ef := range expected {
		if len(ef.Path) == 0 {
			continue
		}
		if id, ok := verifyFileEntry(t, ef, pathToInode); ok {
			entryInodes[i] = id
		}
	}
	return entryInodes
}

// verifyFileEntry checks a single file entry and returns its inode if valid.
func verifyFileEntry(t testing.TB, ef File, pathToInode map[string]inodeID) (inodeID, bool) {
	t.Helper()

	firstPath := ef.Path[0]
	first, ok := pathToInode[firstPath]
	if !ok {
		t.Errorf("expected file not found: %s", firstPath)
		return inodeID{}, false
	}

	for _, p := range ef.Path[1:] {
		id, ok := pathToInode[p]
		if !ok {
			t.Errorf("expected file not found: %s", p)
			continue
		}
		if id != first {
			t.Errorf("hardlink mismatch: %s (inode %d) != %s (inode %d)",
				firstPath, first.ino, p, id.ino)
		}
	}
	return first, true
}

// verifyUniqueInodes checks that different File entries have different inodes.
func verifyUniqueInodes(t testing.TB, expected []File, entryInodes map[int]inodeID) {
	t.Helper()
	for i, id1 := range entryInodes {
		for j, id2 := range entryInodes {
			if i < j && id1 == id2 {
				t.Errorf("files from different entries share inode %d: %v and %v",
					id1.ino, expected[i].Path, expected[j].Path)
			}
		}
	}
}
