// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(first byte, hlen int) []byte {
	h := make([]byte, hlen)
	h[0] = first
	return h
}

func TestBucketTableAddLookupRemove(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(4, 2, 32)

	h := hashOf(1, 32)
	idx, err := bt.Add(h)
	require.NoError(t, err)

	got, ok := bt.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, idx, got)

	removedIdx, err := bt.Remove(h)
	require.NoError(t, err)
	assert.Equal(t, idx, removedIdx)

	_, ok = bt.Lookup(h)
	assert.False(t, ok)
}

func TestBucketTableFullFailsWithoutEviction(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(1, 2, 32) // single bucket, 2 slots: every hash collides

	h1 := hashOf(1, 32)
	h2 := hashOf(2, 32)
	h3 := hashOf(3, 32)

	_, err := bt.Add(h1)
	require.NoError(t, err)
	_, err = bt.Add(h2)
	require.NoError(t, err)

	_, err = bt.Add(h3)
	require.ErrorIs(t, err, ErrBucketFull)

	// the first two entries must still be present -- no eviction happened.
	_, ok := bt.Lookup(h1)
	assert.True(t, ok)
	_, ok = bt.Lookup(h2)
	assert.True(t, ok)
}

func TestBucketTableRemoveNotFound(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(4, 2, 32)
	_, err := bt.Remove(hashOf(1, 32))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBucketTableDefaultExclusive(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(4, 2, 32)
	idx1, err := bt.Add(hashOf(1, 32))
	require.NoError(t, err)
	idx2, err := bt.Add(hashOf(5, 32))
	require.NoError(t, err)

	bt.SetDefault(idx1)
	got, ok := bt.DefaultIndex()
	require.True(t, ok)
	assert.Equal(t, idx1, got)

	bt.SetDefault(idx2)
	got, ok = bt.DefaultIndex()
	require.True(t, ok)
	assert.Equal(t, idx2, got)
}

func TestBucketTableRemoveClearsDefault(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(4, 2, 32)
	h := hashOf(1, 32)
	idx, err := bt.Add(h)
	require.NoError(t, err)
	bt.SetDefault(idx)

	_, err = bt.Remove(h)
	require.NoError(t, err)

	_, ok := bt.DefaultIndex()
	assert.False(t, ok)
}

func TestBucketTableFeedSeatsAtExactIndex(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(4, 2, 32)
	h := hashOf(9, 32)
	bt.Feed(EntryIndex(3), h)

	got, ok := bt.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, EntryIndex(3), got)
}

func TestBucketTableFeedAllZeroStaysVacant(t *testing.T) {
	t.Parallel()
	bt := NewBucketTable(4, 2, 32)
	bt.Feed(EntryIndex(0), make([]byte, 32))
	n := 0
	_ = bt.Iterate(func(EntryIndex, []byte) error { n++; return nil })
	assert.Equal(t, 0, n)
}
