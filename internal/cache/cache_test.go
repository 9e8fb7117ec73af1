package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dupereap/dupereap/internal/types"
)

const (
	digest    = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	otherHash = "0123456789abcdef"
)

func testFile(path string, size int64, ino uint64, mtime time.Time) *types.FileInfo {
	return &types.FileInfo{
		Path:     path,
		Size:     size,
		ModTime:  mtime,
		Identity: types.Identity{Dev: 1, Ino: ino},
	}
}

// storeAndReopen stores fi's digest in a fresh cache, closes it and reopens it.
func storeAndReopen(t *testing.T, alg string, fi *types.FileInfo, start, length int64) *Cache {
	t.Helper()
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	c1, err := Open(cachePath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := c1.Store(alg, fi, start, length, digest); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	c2, err := Open(cachePath)
	if err != nil {
		t.Fatalf("Open() second time failed: %v", err)
	}
	t.Cleanup(func() { _ = c2.Close() })
	return c2
}

func lookup(t *testing.T, c *Cache, alg string, fi *types.FileInfo, start, length int64) string {
	t.Helper()
	got, err := c.Lookup(alg, fi, start, length)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	return got
}

func TestCacheDisabled(t *testing.T) {
	c, err := Open("")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	fi := testFile("/test/file", 100, 1234, time.Now())
	if err := c.Store("sha256", fi, 0, 100, digest); err != nil {
		t.Errorf("Store() on disabled cache: %v", err)
	}
	if got := lookup(t, c, "sha256", fi, 0, 100); got != "" {
		t.Errorf("Lookup() on disabled cache returned %q, want empty", got)
	}
}

func TestNilCache(t *testing.T) {
	var c *Cache
	fi := testFile("/f", 1, 1, time.Now())
	if got := lookup(t, c, "sha256", fi, 0, 1); got != "" {
		t.Errorf("nil cache returned %q", got)
	}
	if err := c.Store("sha256", fi, 0, 1, digest); err != nil {
		t.Errorf("nil cache Store: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil cache Close: %v", err)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.db")
	fi := testFile("/test/file.txt", 1024, 12345, time.Unix(1609459200, 0))

	c1, err := Open(cachePath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ranges := []struct{ start, length int64 }{
		{0, -1},
		{0, 512},
		{0, 64 * 1024},
	}
	for _, r := range ranges {
		if err := c1.Store("sha256", fi, r.start, r.length, digest); err != nil {
			t.Fatal(err)
		}
	}
	_ = c1.Store("xxh64", fi, 0, -1, otherHash)
	if err := c1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	c2, err := Open(cachePath)
	if err != nil {
		t.Fatalf("Open() second time failed: %v", err)
	}
	defer func() { _ = c2.Close() }()

	for _, r := range ranges {
		if got := lookup(t, c2, "sha256", fi, r.start, r.length); got != digest {
			t.Errorf("Lookup(start=%d, length=%d) = %q, want %q", r.start, r.length, got, digest)
		}
	}
	if got := lookup(t, c2, "xxh64", fi, 0, -1); got != otherHash {
		t.Errorf("Lookup(xxh64) = %q, want %q", got, otherHash)
	}
}

func TestCacheMisses(t *testing.T) {
	mtime := time.Unix(1609459200, 0)
	fi := testFile("/test/file.txt", 1024, 12345, mtime)

	tests := []struct {
		name   string
		alg    string
		fi     *types.FileInfo
		start  int64
		length int64
	}{
		{"algorithm", "sha512", fi, 0, 1024},
		{"mtime", "sha256", testFile(fi.Path, fi.Size, 12345, mtime.Add(time.Second)), 0, 1024},
		{"file size", "sha256", testFile(fi.Path, 2048, 12345, mtime), 0, 1024},
		{"inode", "sha256", testFile(fi.Path, fi.Size, 99999, mtime), 0, 1024},
		{"path", "sha256", testFile("/test/renamed.txt", fi.Size, 12345, mtime), 0, 1024},
		{"start", "sha256", fi, 512, 1024},
		{"range length", "sha256", fi, 0, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := storeAndReopen(t, "sha256", fi, 0, 1024)
			if got := lookup(t, c, tt.alg, tt.fi, tt.start, tt.length); got != "" {
				t.Errorf("Lookup() with different %s returned %q, want miss", tt.name, got)
			}
		})
	}
}

func TestCacheMissOnDeviceChange(t *testing.T) {
	fi := testFile("/f", 10, 7, time.Unix(1, 0))
	c := storeAndReopen(t, "sha256", fi, 0, -1)

	moved := *fi
	moved.Identity.Dev = 2
	if got := lookup(t, c, "sha256", &moved, 0, -1); got != "" {
		t.Errorf("Lookup() on another device returned %q, want miss", got)
	}
}

func TestSelfCleaning(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.db")
	fiA := testFile("/a.txt", 100, 1, time.Now())
	fiB := testFile("/b.txt", 200, 2, time.Now())

	// First run: store two entries
	c1, _ := Open(cachePath)
	_ = c1.Store("sha256", fiA, 0, -1, digest)
	_ = c1.Store("sha256", fiB, 0, -1, digest)
	_ = c1.Close()

	// Second run: only lookup fiA (fiB becomes orphan)
	c2, _ := Open(cachePath)
	_, _ = c2.Lookup("sha256", fiA, 0, -1)
	_ = c2.Close()

	c3, _ := Open(cachePath)
	defer func() { _ = c3.Close() }()

	if lookup(t, c3, "sha256", fiA, 0, -1) == "" {
		t.Error("fiA should exist after self-cleaning")
	}
	if lookup(t, c3, "sha256", fiB, 0, -1) != "" {
		t.Error("fiB should have been cleaned")
	}
}

func TestInvalidDigestIgnored(t *testing.T) {
	c, _ := Open(filepath.Join(t.TempDir(), "cache.db"))
	defer func() { _ = c.Close() }()

	fi := testFile("/test.txt", 100, 1, time.Now())
	for _, bad := range []string{"", "not-hex"} {
		if err := c.Store("sha256", fi, 0, -1, bad); err != nil {
			t.Errorf("Store(%q) error: %v", bad, err)
		}
	}
}

func TestMakeKeyDeterministic(t *testing.T) {
	fi := testFile("/test/file.txt", 1024, 12345, time.Unix(1609459200, 123456789))

	if !bytes.Equal(makeKey("sha256", fi, 0, 512), makeKey("sha256", fi, 0, 512)) {
		t.Error("makeKey() not deterministic")
	}
	if bytes.Equal(makeKey("sha256", fi, 0, 512), makeKey("sha1", fi, 0, 512)) {
		t.Error("makeKey() ignores the algorithm")
	}
}

func TestCacheDirCreation(t *testing.T) {
	nestedPath := filepath.Join(t.TempDir(), "a", "b", "c", "cache.db")

	c, err := Open(nestedPath)
	if err != nil {
		t.Fatalf("Open() failed with nested path: %v", err)
	}
	_ = c.Close()

	if _, err := os.Stat(nestedPath); os.IsNotExist(err) {
		t.Error("cache file was not created")
	}
}

func TestSecondInstanceLocked(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.db")
	c1, err := Open(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c1.Close() }()

	if _, err := Open(cachePath); err == nil {
		t.Error("expected second Open() to fail while the first holds the lock")
	}
}
