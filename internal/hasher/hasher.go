// Package hasher maps digest names to implementations and hashes file content.
//
// Algorithm names are case-insensitive and accept '-' for '_' ("SHA-256",
// "sha512-256"). Unknown names are rejected when the configuration is
// validated, never in the middle of a scan.
package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha3"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"

	"github.com/dupereap/dupereap/internal/types"
)

// Default is the algorithm used when none is configured.
const Default = "sha256"

// BlockSize is the read buffer size for hashing.
const BlockSize = 64 * 1024

// Algorithm is a named digest constructor.
type Algorithm struct {
	Name string
	Size int // Digest length in bytes
	new  func() hash.Hash
}

// New returns a fresh digest state.
func (a Algorithm) New() hash.Hash { return a.new() }

var algorithms = map[string]Algorithm{}

func register(name string, newFn func() hash.Hash) {
	algorithms[name] = Algorithm{Name: name, Size: newFn().Size(), new: newFn}
}

// unkeyed adapts x/crypto constructors that take an optional key.
func unkeyed(newFn func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := newFn(nil)
		if err != nil {
			panic(err) // only possible with an oversized key
		}
		return h
	}
}

func init() {
	register("md5", md5.New)
	register("sha1", sha1.New)
	register("sha224", sha256.New224)
	register("sha256", sha256.New)
	register("sha384", sha512.New384)
	register("sha512", sha512.New)
	register("sha512_224", sha512.New512_224)
	register("sha512_256", sha512.New512_256)
	register("sha3_224", func() hash.Hash { return sha3.New224() })
	register("sha3_256", func() hash.Hash { return sha3.New256() })
	register("sha3_384", func() hash.Hash { return sha3.New384() })
	register("sha3_512", func() hash.Hash { return sha3.New512() })
	register("blake2b", unkeyed(blake2b.New512))
	register("blake2b_256", unkeyed(blake2b.New256))
	register("blake2s", unkeyed(blake2s.New256))
	register("blake3", func() hash.Hash { return blake3.New() })
	register("xxh64", func() hash.Hash { return xxhash.New() })
}

// normalize folds case and separators so "SHA-256" finds "sha256".
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	if a, ok := strings.CutPrefix(name, "sha_"); ok {
		name = "sha" + a
	}
	return name
}

// Lookup returns the algorithm registered under name.
// Unknown names wrap types.ErrInvalidConfig.
func Lookup(name string) (Algorithm, error) {
	if a, ok := algorithms[normalize(name)]; ok {
		return a, nil
	}
	return Algorithm{}, types.InvalidConfigf("unknown hash algorithm %q (available: %s)",
		name, strings.Join(Names(), ", "))
}

// Names returns every registered algorithm name, sorted.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, BlockSize)
		return &b
	},
}

// Sum hashes the first limit bytes of the file at path, or the whole file
// when limit is negative. It returns the hex digest and the bytes read.
// The file handle is closed before Sum returns, on every path.
func Sum(alg Algorithm, path string, limit int64) (digest string, n int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if limit >= 0 {
		r = io.LimitReader(f, limit)
	}

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)

	h := alg.New()
	n, err = io.CopyBuffer(h, r, *bufPtr)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
