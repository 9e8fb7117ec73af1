//go:build !unix && !windows

package identity

// Supported reports whether this platform exposes file identities.
const Supported = false

func newNative() Resolver { return NewNone() }
