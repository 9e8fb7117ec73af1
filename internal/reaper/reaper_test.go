//go:build unix

package reaper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dupereap/dupereap/internal/identity"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/types"
)

var resolver = identity.New(true)

// =============================================================================
// Core Reaper Tests
// =============================================================================

// TestReapBasic tests that planned copies are removed and the keeper stays.
func TestReapBasic(t *testing.T) {
	root := t.TempDir()
	content := []byte("duplicate content")
	a := writeFile(t, root, "a.txt", content, 0)
	b := writeFile(t, root, "b.txt", content, 1)
	c := writeFile(t, root, "c.txt", content, 2)

	decisions := plan(planner.First, siblings(a), siblings(b), siblings(c))
	result := reap(t, decisions, false, nil)

	assertExists(t, a.Path)
	assertGone(t, b.Path)
	assertGone(t, c.Path)
	if result.Deleted != 2 || result.Failed != 0 {
		t.Errorf("deleted=%d failed=%d, want 2/0", result.Deleted, result.Failed)
	}
	if want := int64(2 * len(content)); result.BytesFreed != want {
		t.Errorf("BytesFreed = %d, want %d", result.BytesFreed, want)
	}
}

// TestDryRunMode tests that a dry run checks but removes nothing.
func TestDryRunMode(t *testing.T) {
	root := t.TempDir()
	content := []byte("same")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)

	result := reap(t, plan(planner.First, siblings(a), siblings(b)), true, nil)

	assertExists(t, a.Path)
	assertExists(t, b.Path)
	if !result.DryRun || result.Deleted != 1 {
		t.Errorf("dryRun=%v deleted=%d, want true/1", result.DryRun, result.Deleted)
	}
	if result.Outcomes[0].Action != ActionWouldDelete {
		t.Errorf("action = %v, want would-delete", result.Outcomes[0].Action)
	}
	if result.BytesFreed != int64(len(content)) {
		t.Errorf("BytesFreed = %d, want %d", result.BytesFreed, len(content))
	}
}

// TestKeeperHardlinksLeftInPlace tests that paths sharing the keeper's inode survive.
func TestKeeperHardlinksLeftInPlace(t *testing.T) {
	root := t.TempDir()
	content := []byte("linked")
	a := writeFile(t, root, "a", content, 0)
	aLink := link(t, a.Path, filepath.Join(root, "a-link"), 1)
	b := writeFile(t, root, "b", content, 2)

	result := reap(t, plan(planner.First, siblings(a, aLink), siblings(b)), false, nil)

	assertExists(t, a.Path)
	assertExists(t, aLink.Path)
	assertGone(t, b.Path)
	if result.BytesFreed != int64(len(content)) {
		t.Errorf("BytesFreed = %d, want %d", result.BytesFreed, len(content))
	}
}

// TestBytesFreedAfterAllLinksRemoved tests per-physical-file accounting.
func TestBytesFreedAfterAllLinksRemoved(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping permission test when running as root")
	}

	root := t.TempDir()
	content := []byte("0123456789")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)
	ro := filepath.Join(root, "ro")
	if err := os.Mkdir(ro, 0o755); err != nil {
		t.Fatal(err)
	}
	bLink := link(t, b.Path, filepath.Join(ro, "b-link"), 2)

	// A read-only directory keeps b-link from being unlinked.
	if err := os.Chmod(ro, 0o555); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(ro, 0o755) }()

	result := reap(t, plan(planner.First, siblings(a), siblings(b, bLink)), false, nil)

	if result.Deleted != 1 || result.Failed != 1 {
		t.Fatalf("deleted=%d failed=%d, want 1/1", result.Deleted, result.Failed)
	}
	if result.BytesFreed != 0 {
		t.Errorf("BytesFreed = %d, want 0 while a hardlink of b remains", result.BytesFreed)
	}
	assertExists(t, bLink.Path)
}

// =============================================================================
// Safety Checks
// =============================================================================

// TestMtimeVerification tests that a file modified after the scan is kept.
func TestMtimeVerification(t *testing.T) {
	root := t.TempDir()
	content := []byte("content")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)
	setMtime(t, b.Path, b.ModTime.Add(time.Hour))

	errCh := make(chan error, 10)
	result := reap(t, plan(planner.First, siblings(a), siblings(b)), false, errCh)
	close(errCh)

	assertExists(t, b.Path)
	if len(result.Failures()) != 1 || !errors.Is(result.Failures()[0].Err, ErrModified) {
		t.Errorf("expected ErrModified, got %v", result.Failures())
	}
	assertDeletionFailure(t, errCh, b.Path)
}

// TestKeeperDeletedBeforeReap tests that nothing is deleted when the keeper is gone.
func TestKeeperDeletedBeforeReap(t *testing.T) {
	root := t.TempDir()
	content := []byte("content")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)
	if err := os.Remove(a.Path); err != nil {
		t.Fatal(err)
	}

	result := reap(t, plan(planner.First, siblings(a), siblings(b)), false, nil)

	assertExists(t, b.Path)
	if result.Failed != 1 || !errors.Is(result.Outcomes[0].Err, ErrKeeperMissing) {
		t.Errorf("expected ErrKeeperMissing, got %v", result.Outcomes)
	}
}

// TestTargetDeletedBeforeReap tests that a vanished target fails without blocking later ones.
func TestTargetDeletedBeforeReap(t *testing.T) {
	root := t.TempDir()
	content := []byte("content")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)
	c := writeFile(t, root, "c", content, 2)
	if err := os.Remove(b.Path); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 10)
	result := reap(t, plan(planner.First, siblings(a), siblings(b), siblings(c)), false, errCh)
	close(errCh)

	assertGone(t, c.Path)
	assertExists(t, a.Path)
	if result.Deleted != 1 || result.Failed != 1 {
		t.Fatalf("deleted=%d failed=%d, want 1/1", result.Deleted, result.Failed)
	}
	if !errors.Is(result.Failures()[0].Err, os.ErrNotExist) {
		t.Errorf("expected not-exist failure, got %v", result.Failures()[0].Err)
	}
	assertDeletionFailure(t, errCh, b.Path)
}

// TestFileLockedSkipped tests that files locked by another process are skipped.
func TestFileLockedSkipped(t *testing.T) {
	root := t.TempDir()
	content := []byte("test content")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)

	f := lockFile(t, b.Path)
	defer func() { _ = f.Close() }()

	result := reap(t, plan(planner.First, siblings(a), siblings(b)), false, nil)

	assertExists(t, b.Path)
	if result.Failed != 1 || !errors.Is(result.Outcomes[0].Err, ErrInUse) {
		t.Errorf("expected ErrInUse, got %v", result.Outcomes)
	}
}

// TestSymlinkSwapRefused tests that a target replaced by a symlink is not removed.
func TestSymlinkSwapRefused(t *testing.T) {
	root := t.TempDir()
	content := []byte("content")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)
	if err := os.Remove(b.Path); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(a.Path, b.Path); err != nil {
		t.Fatal(err)
	}

	result := reap(t, plan(planner.First, siblings(a), siblings(b)), false, nil)

	if result.Failed != 1 || !errors.Is(result.Outcomes[0].Err, ErrNotRegular) {
		t.Errorf("expected ErrNotRegular, got %v", result.Outcomes)
	}
	if _, err := os.Lstat(b.Path); err != nil {
		t.Errorf("symlink should be left alone: %v", err)
	}
}

// TestCanceledBeforeStart tests that a canceled context deletes nothing.
func TestCanceledBeforeStart(t *testing.T) {
	root := t.TempDir()
	content := []byte("content")
	a := writeFile(t, root, "a", content, 0)
	b := writeFile(t, root, "b", content, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := New(plan(planner.First, siblings(a), siblings(b)), false, false, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(result.Outcomes) != 0 {
		t.Errorf("expected no outcomes, got %v", result.Outcomes)
	}
	assertExists(t, b.Path)
}

// =============================================================================
// Formatting
// =============================================================================

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{Outcome{Path: "/b", Keeper: "/a", Action: ActionDeleted}, "Deleted /b (kept /a)"},
		{Outcome{Path: "/b", Keeper: "/a", Action: ActionWouldDelete}, "Would delete /b (keep /a)"},
		{Outcome{Path: "/b", Action: ActionFailed, Err: ErrInUse}, "failed /b: " + ErrInUse.Error()},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestEscapePath(t *testing.T) {
	got := escapePath("a\tb\nc\rd")
	if got != `a\tb\nc\rd` {
		t.Errorf("escapePath() = %q", got)
	}
	if strings.ContainsAny(got, "\t\n\r") {
		t.Error("control characters must be escaped")
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func reap(t *testing.T, decisions []planner.Decision, dryRun bool, errCh chan error) Result {
	t.Helper()
	result, err := New(decisions, dryRun, false, errCh).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return result
}

func plan(strategy planner.Strategy, sgs ...types.SiblingGroup) []planner.Decision {
	set := types.NewDuplicateSet(sgs[0].First().Size, "digest", sgs)
	return []planner.Decision{planner.Plan(set, strategy)}
}

func siblings(files ...*types.FileInfo) types.SiblingGroup {
	return types.NewSiblingGroup(files)
}

func writeFile(t *testing.T, dir, name string, content []byte, index int) *types.FileInfo {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return stat(t, path, index)
}

func link(t *testing.T, oldname, newname string, index int) *types.FileInfo {
	t.Helper()
	if err := os.Link(oldname, newname); err != nil {
		t.Fatal(err)
	}
	return stat(t, newname, index)
}

func stat(t *testing.T, path string, index int) *types.FileInfo {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	id, nlink := resolver.Resolve(path, info)
	return &types.FileInfo{
		Index:    index,
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Identity: id,
		Nlink:    nlink,
	}
}

func lockFile(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		t.Fatal(err)
	}
	return f
}

func setMtime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); err != nil {
		t.Errorf("%s should exist: %v", path, err)
	}
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("%s should have been deleted", path)
	}
}

func assertDeletionFailure(t *testing.T, errCh chan error, path string) {
	t.Helper()
	var found bool
	for err := range errCh {
		var pe *types.PathError
		if errors.As(err, &pe) && pe.Kind == types.DeletionFailure && pe.Path == path {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a deletion-failure error for %s", path)
	}
}
