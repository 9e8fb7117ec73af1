// Package cache provides file-based caching of content digests.
package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dupereap/dupereap/internal/types"
)

const bucketName = "digests"

// Cache provides persistent caching of file digests using BoltDB.
// Implements self-cleaning: each run creates a new database, only used entries survive.
// A nil or disabled Cache misses every lookup and drops every store.
type Cache struct {
	readDB  *bolt.DB // Existing cache (read-only)
	writeDB *bolt.DB // New cache (write) - BoltDB locks this file
	path    string   // Final path (for atomic swap)
	enabled bool
}

// Open opens existing cache for reading and creates new cache for writing.
// BoltDB's built-in file locking on .new file prevents concurrent instances.
// Returns disabled cache if path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}
	var err error

	// Open existing cache for reading (if exists)
	if _, statErr := os.Stat(path); statErr == nil {
		c.readDB, err = bolt.Open(path, 0o600, &bolt.Options{
			ReadOnly: true,
			Timeout:  1 * time.Second,
		})
		if err != nil {
			// Can't open existing - continue without read cache
			c.readDB = nil
		}
	}

	newPath := path + ".new"
	c.writeDB, err = bolt.Open(newPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache (locked by another instance?): %w", err)
	}

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and atomically replaces old with new.
// Only replaces if write database closed successfully to avoid data loss.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if err := os.Rename(c.path+".new", c.path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

const keyVersion byte = 2 // Increment when key format changes

// makeKey builds deterministic byte key for BoltDB lookup.
// Key = ver(1) + alg + NUL + path + NUL + fileSize(8) + dev(8) + ino(8) + mtime(8) + start(8) + length(8)
func makeKey(alg string, fi *types.FileInfo, start, length int64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(alg)
	buf.WriteByte(0)
	buf.WriteString(fi.Path)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, fi.Size)
	_ = binary.Write(buf, binary.BigEndian, fi.Identity.Dev)
	_ = binary.Write(buf, binary.BigEndian, fi.Identity.Ino)
	_ = binary.Write(buf, binary.BigEndian, fi.ModTime.UnixNano())
	_ = binary.Write(buf, binary.BigEndian, start)
	_ = binary.Write(buf, binary.BigEndian, length)
	return buf.Bytes()
}

// Lookup retrieves a cached hex digest for a byte range hashed with alg.
// Key = (alg, path, fileSize, dev, ino, mtime, start, length) - any change = cache miss.
// On HIT: copies entry to writeDB (self-cleaning).
// Returns ("", nil) if not found, ("", err) on read error.
func (c *Cache) Lookup(alg string, fi *types.FileInfo, start, length int64) (string, error) {
	if c == nil || !c.enabled || c.readDB == nil {
		return "", nil
	}

	key := makeKey(alg, fi, start, length)
	var digest []byte

	err := c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); len(data) > 0 {
			digest = bytes.Clone(data)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cache lookup: %w", err)
	}
	if digest == nil {
		return "", nil
	}

	hexDigest := hex.EncodeToString(digest)
	_ = c.Store(alg, fi, start, length, hexDigest)
	return hexDigest, nil
}

// Store saves a hex digest for a byte range to the new database.
// Digests that are empty or not valid hex are ignored.
func (c *Cache) Store(alg string, fi *types.FileInfo, start, length int64, digest string) error {
	if c == nil || !c.enabled || c.writeDB == nil {
		return nil
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) == 0 {
		return nil
	}

	err = c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(alg, fi, start, length), raw)
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
