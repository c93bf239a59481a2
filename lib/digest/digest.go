// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package digest abstracts the content-hash function behind a streaming
// "absorb bytes, finalize to hlen bytes" capability.
// SHFS itself does not care which algorithm produced a hash; it only cares
// that it is reproducible and that it fits in hlen bytes.
package digest

import "fmt"

// Digest absorbs bytes and finalizes to exactly Len() bytes.
type Digest interface {
	Write(p []byte) (int, error)
	Sum() []byte
	Len() int
}

// Kind names a Digest implementation selectable by the volume's on-disk
// config header, mirroring the style of a checksum-type enum: a small set
// of named algorithms, one of which is the reference choice.
type Kind uint8

const (
	SHA256 Kind = iota
	BLAKE2
)

func (k Kind) String() string {
	switch k {
	case SHA256:
		return "sha256"
	case BLAKE2:
		return "blake2"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// New returns a fresh Digest of the given kind, truncating or
// repeat-and-truncating its native output to exactly hlen bytes.
func New(kind Kind, hlen int) (Digest, error) {
	if hlen < 1 || hlen > 64 {
		return nil, fmt.Errorf("digest: hlen must be in [1,64], got %d", hlen)
	}
	switch kind {
	case SHA256:
		return newSHA256(hlen), nil
	case BLAKE2:
		return newBlake2(hlen), nil
	default:
		return nil, fmt.Errorf("digest: unknown kind %v", kind)
	}
}

// fit truncates native (which is always longer than or equal to the
// shortest supported hlen in practice) down to hlen, and if hlen is longer
// than native, repeats native's bytes to pad out to hlen. This keeps a
// single codepath for both the "hlen <= native size" and "hlen > native
// size" cases, with hlen ranging 1-64 bytes.
func fit(native []byte, hlen int) []byte {
	out := make([]byte, hlen)
	for i := range out {
		out[i] = native[i%len(native)]
	}
	return out
}
