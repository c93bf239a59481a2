// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UUID is the on-disk representation of a volume or member identity: a
// plain [16]byte array, not github.com/google/uuid.UUID. google/uuid.UUID
// has a value-receiver MarshalBinary, which makes it implement
// encoding.BinaryMarshaler -- and lib/binstruct's staticSize treats any
// type implementing Marshaler/Unmarshaler without also implementing
// StaticSizer as an error, so embedding it directly in a binstruct-tagged
// struct panics on the first Mount. A bare [16]byte (or a named type over
// it with no Marshal/UnmarshalBinary methods) instead falls through
// binstruct's array-kind path, which marshals/unmarshals it one byte at a
// time -- exactly like any other fixed-size byte array field.
type UUID [16]byte

var _ fmt.Stringer = UUID{}

func (u UUID) String() string {
	s := hex.EncodeToString(u[:])
	return strings.Join([]string{s[:8], s[8:12], s[12:16], s[16:20], s[20:32]}, "-")
}

// FromGoogle converts a github.com/google/uuid.UUID (random-generation,
// parsing) into the on-disk UUID type. Both are [16]byte arrays, so this
// is a plain element-wise copy.
func FromGoogle(u uuid.UUID) UUID { return UUID(u) }

// NewUUID generates a random (v4) UUID via github.com/google/uuid and
// converts it to the on-disk type.
func NewUUID() UUID { return FromGoogle(uuid.New()) }
