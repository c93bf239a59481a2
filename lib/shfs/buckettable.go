// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BucketTable is the fixed-shape open-addressing hash index: a
// buckets x entries_per_bucket grid. Slot index = bucket*entriesPerBucket +
// slotInBucket, which is exactly the flat on-disk entry order, so Feed
// (driven by a sequential on-disk scan at mount) can seat an entry directly
// by its flat index.
type BucketTable struct {
	buckets         uint32
	entriesPerBkt   uint32
	hlen            int
	occupied        []bool
	hashes          [][]byte
	defaultIdx      *EntryIndex
}

var ErrBucketFull = fmt.Errorf("bucket full")
var ErrNotFound = fmt.Errorf("not found")

func NewBucketTable(buckets, entriesPerBucket uint32, hlen int) *BucketTable {
	n := int(buckets) * int(entriesPerBucket)
	return &BucketTable{
		buckets:       buckets,
		entriesPerBkt: entriesPerBucket,
		hlen:          hlen,
		occupied:      make([]bool, n),
		hashes:        make([][]byte, n),
	}
}

func (t *BucketTable) bucketOf(hash []byte) uint32 {
	return binary.LittleEndian.Uint32(hash[:4]) % t.buckets
}

// Feed seats hash at the slot with the given flat index. It is used only
// during mount, driven by the on-disk scan order; an all-zero hash leaves
// the slot vacant.
func (t *BucketTable) Feed(index EntryIndex, hash []byte) {
	allZero := true
	for _, b := range hash {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return
	}
	t.occupied[index] = true
	t.hashes[index] = append([]byte(nil), hash...)
}

// Lookup returns the entry index whose stored hash equals hash, probing the
// whole bucket (vacant slots do not terminate the probe).
func (t *BucketTable) Lookup(hash []byte) (EntryIndex, bool) {
	bucket := t.bucketOf(hash)
	base := EntryIndex(bucket) * EntryIndex(t.entriesPerBkt)
	for s := EntryIndex(0); s < EntryIndex(t.entriesPerBkt); s++ {
		idx := base + s
		if t.occupied[idx] && bytes.Equal(t.hashes[idx], hash) {
			return idx, true
		}
	}
	return 0, false
}

// Add places hash into the first vacant slot of its bucket.
func (t *BucketTable) Add(hash []byte) (EntryIndex, error) {
	bucket := t.bucketOf(hash)
	base := EntryIndex(bucket) * EntryIndex(t.entriesPerBkt)
	for s := EntryIndex(0); s < EntryIndex(t.entriesPerBkt); s++ {
		idx := base + s
		if !t.occupied[idx] {
			t.occupied[idx] = true
			t.hashes[idx] = append([]byte(nil), hash...)
			return idx, nil
		}
	}
	return 0, ErrBucketFull
}

// Remove zeros the stored hash and marks the slot vacant.
func (t *BucketTable) Remove(hash []byte) (EntryIndex, error) {
	idx, ok := t.Lookup(hash)
	if !ok {
		return 0, ErrNotFound
	}
	t.occupied[idx] = false
	t.hashes[idx] = nil
	if t.defaultIdx != nil && *t.defaultIdx == idx {
		t.defaultIdx = nil
	}
	return idx, nil
}

// Iterate yields every occupied entry in flat slot order (stable, but
// otherwise unspecified).
func (t *BucketTable) Iterate(fn func(EntryIndex, []byte) error) error {
	for i, occ := range t.occupied {
		if !occ {
			continue
		}
		if err := fn(EntryIndex(i), t.hashes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *BucketTable) SetDefault(idx EntryIndex) {
	v := idx
	t.defaultIdx = &v
}

func (t *BucketTable) ClearDefault() {
	t.defaultIdx = nil
}

func (t *BucketTable) DefaultIndex() (EntryIndex, bool) {
	if t.defaultIdx == nil {
		return 0, false
	}
	return *t.defaultIdx, true
}

func (t *BucketTable) NumBuckets() uint32        { return t.buckets }
func (t *BucketTable) EntriesPerBucket() uint32  { return t.entriesPerBkt }
func (t *BucketTable) NumEntries() uint64        { return uint64(t.buckets) * uint64(t.entriesPerBkt) }
