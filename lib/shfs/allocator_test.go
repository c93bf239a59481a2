// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorRegisterUnregisterRoundTrip(t *testing.T) {
	t.Parallel()
	a := NewAllocator(100)

	require.NoError(t, a.Register(10, 5))
	start, ok := a.FindFree(5)
	assert.True(t, ok)
	assert.NotEqual(t, uint64(10), start) // [10,15) is reserved now

	require.NoError(t, a.Unregister(10, 5))
	start, ok = a.FindFree(100)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
}

func TestAllocatorOverlapRejected(t *testing.T) {
	t.Parallel()
	a := NewAllocator(100)
	require.NoError(t, a.Register(10, 10))
	err := a.Register(15, 10)
	require.Error(t, err)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Overlap, ae.Kind)
}

func TestAllocatorOutOfRangeRejected(t *testing.T) {
	t.Parallel()
	a := NewAllocator(100)
	err := a.Register(95, 10)
	require.Error(t, err)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, OutOfRange, ae.Kind)
}

func TestAllocatorUnregisterNotReserved(t *testing.T) {
	t.Parallel()
	a := NewAllocator(100)
	err := a.Unregister(10, 5)
	require.Error(t, err)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, NotReserved, ae.Kind)
}

func TestAllocatorFirstFit(t *testing.T) {
	t.Parallel()
	a := NewAllocator(100)
	require.NoError(t, a.Register(0, 10))
	require.NoError(t, a.Register(20, 10))

	start, ok := a.FindFree(5)
	require.True(t, ok)
	assert.Equal(t, uint64(10), start) // lowest free run, not the larger one at 30
}

func TestAllocatorCoalescesAdjacentFree(t *testing.T) {
	t.Parallel()
	a := NewAllocator(100)
	require.NoError(t, a.Register(0, 30))
	require.NoError(t, a.Register(30, 30))

	require.NoError(t, a.Unregister(0, 30))
	require.NoError(t, a.Unregister(30, 30))

	start, ok := a.FindFree(100)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
}

func TestAllocatorNoSpace(t *testing.T) {
	t.Parallel()
	a := NewAllocator(10)
	require.NoError(t, a.Register(0, 10))
	_, ok := a.FindFree(1)
	assert.False(t, ok)

	_, err := a.Reserve(1)
	require.Error(t, err)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, NoSpace, ae.Kind)
}
