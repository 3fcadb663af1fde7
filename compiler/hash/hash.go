// Package hash computes content hashes of compiled modules and the keys of
// the compile cache.
//
// Both are SHA-256 digests over a deterministic tagged serialization that
// is independent of the artifact encoding, so a codec change does not
// invalidate content hashes.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/kiln/pkg/bytecode"
)

// Digest is a SHA-256 content hash.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short is the first 12 hex digits, for logs.
func (d Digest) Short() string { return d.String()[:12] }

// Key is the cache key of compiling src with options identified by
// fingerprint. The bytecode version is part of the key so a format bump
// never serves stale entries.
func Key(src, fingerprint string) Digest {
	s := newSerializer()
	s.writeByte(TagVersion)
	s.writeUint16(bytecode.BytecodeVersion)
	s.writeByte(TagSource)
	s.writeString(src)
	s.writeByte(TagFingerprint)
	s.writeString(fingerprint)
	return sha256.Sum256(s.buf)
}

// Module hashes the executable content of m. Debug sections are excluded:
// a module compiled with and without -debug hashes the same.
func Module(m *bytecode.Module) Digest {
	return sha256.Sum256(Serialize(m, false))
}

// ModuleWithDebug also covers source maps and slot names.
func ModuleWithDebug(m *bytecode.Module) Digest {
	return sha256.Sum256(Serialize(m, true))
}
