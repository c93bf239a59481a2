// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package digest

import (
	"github.com/codahale/blake2/blake2b"
)

// blake2Digest is the second, selectable digest, proving the digest seam
// is real pluggability rather than an
// interface with a single implementation.
type blake2Digest struct {
	h    interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
	hlen int
}

func newBlake2(hlen int) *blake2Digest {
	size := hlen
	if size > 64 {
		size = 64
	}
	h, err := blake2b.New(&blake2b.Config{Size: uint8(size)})
	if err != nil {
		// blake2b.Config.Size is only invalid outside [1,64], which New
		// already rejects hlen for.
		panic(err)
	}
	return &blake2Digest{h: h, hlen: hlen}
}

func (d *blake2Digest) Write(p []byte) (int, error) { return d.h.Write(p) }
func (d *blake2Digest) Len() int                     { return d.hlen }
func (d *blake2Digest) Sum() []byte                  { return fit(d.h.Sum(nil), d.hlen) }
