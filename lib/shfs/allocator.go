// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"fmt"
	"sort"
)

// interval is a half-open [Start, Start+Len) range of logical chunk
// numbers.
type interval struct {
	Start uint64
	Len   uint64
}

func (iv interval) end() uint64 { return iv.Start + iv.Len }

func (iv interval) overlaps(other interval) bool {
	return iv.Start < other.end() && other.Start < iv.end()
}

// Allocator is a first-fit allocator over the logical chunk address space,
// represented as an ordered list of free intervals rather than a balanced
// interval tree: chunk counts per volume stay modest enough that a sorted
// slice scan is simpler without giving anything up.
type Allocator struct {
	rangeLen uint64
	free     []interval // sorted by Start, non-adjacent, non-overlapping
}

// NewAllocator creates an allocator over [0, rangeLen) with the entire
// range free.
func NewAllocator(rangeLen uint64) *Allocator {
	a := &Allocator{rangeLen: rangeLen}
	if rangeLen > 0 {
		a.free = []interval{{Start: 0, Len: rangeLen}}
	}
	return a
}

// Register marks [start, start+length) as reserved (in use), for use while
// replaying existing allocations discovered at mount time. It fails with
// OUT_OF_RANGE if the interval exceeds the volume's chunk range, or OVERLAP
// if it collides with an already-reserved interval.
func (a *Allocator) Register(start, length uint64) error {
	if length == 0 {
		return nil
	}
	iv := interval{Start: start, Len: length}
	if iv.end() > a.rangeLen {
		return &ActionError{Kind: OutOfRange, Message: fmt.Sprintf("chunk range [%d,%d) exceeds volume extent %d", start, iv.end(), a.rangeLen)}
	}
	// iv must lie entirely within a single free interval: any partial
	// overlap with a free interval (or no overlap at all, meaning iv is
	// already wholly reserved) is an OVERLAP.
	for i, f := range a.free {
		if f.Start <= iv.Start && iv.end() <= f.end() {
			a.splitOut(i, iv)
			return nil
		}
	}
	return &ActionError{Kind: Overlap, Message: fmt.Sprintf("chunk range [%d,%d) is already reserved", start, iv.end())}
}

// splitOut removes iv from the free interval at a.free[i], replacing it
// with zero, one, or two remaining free intervals.
func (a *Allocator) splitOut(i int, iv interval) {
	f := a.free[i]
	var replacement []interval
	if f.Start < iv.Start {
		replacement = append(replacement, interval{Start: f.Start, Len: iv.Start - f.Start})
	}
	if iv.end() < f.end() {
		replacement = append(replacement, interval{Start: iv.end(), Len: f.end() - iv.end()})
	}
	a.free = append(a.free[:i], append(replacement, a.free[i+1:]...)...)
}

// Unregister releases a previously reserved interval back to the free
// pool, coalescing with adjacent free neighbors. It fails with NOT_RESERVED
// if any part of the interval is currently free. The interval need not match
// the bounds of an earlier Register call: any wholly reserved range is
// accepted.
func (a *Allocator) Unregister(start, length uint64) error {
	if length == 0 {
		return nil
	}
	iv := interval{Start: start, Len: length}
	for _, f := range a.free {
		if f.overlaps(iv) {
			return &ActionError{Kind: NotReserved, Message: fmt.Sprintf("chunk range [%d,%d) is not reserved", start, iv.end())}
		}
	}
	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].Start >= iv.Start })
	a.free = append(a.free, interval{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = iv
	a.coalesceAround(idx)
	return nil
}

func (a *Allocator) coalesceAround(idx int) {
	if idx+1 < len(a.free) && a.free[idx].end() == a.free[idx+1].Start {
		a.free[idx].Len += a.free[idx+1].Len
		a.free = append(a.free[:idx+1], a.free[idx+2:]...)
	}
	if idx > 0 && a.free[idx-1].end() == a.free[idx].Start {
		a.free[idx-1].Len += a.free[idx].Len
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	}
}

// FindFree returns the lowest-addressed free interval of at least length
// chunks, first-fit. ok is false if no such interval exists
// (NO_SPACE).
func (a *Allocator) FindFree(length uint64) (start uint64, ok bool) {
	for _, f := range a.free {
		if f.Len >= length {
			return f.Start, true
		}
	}
	return 0, false
}

// Reserve finds a first-fit free interval of length chunks and reserves it
// in one step, returning the chosen start. It fails with NoSpace if no
// interval is large enough.
func (a *Allocator) Reserve(length uint64) (start uint64, err error) {
	start, ok := a.FindFree(length)
	if !ok {
		return 0, &ActionError{Kind: NoSpace, Message: fmt.Sprintf("no free run of %d chunks", length)}
	}
	if err := a.Register(start, length); err != nil {
		return 0, err
	}
	return start, nil
}

// FreeIntervals returns a snapshot of the current free-list, sorted by
// start, for diagnostics.
func (a *Allocator) FreeIntervals() []struct{ Start, Len uint64 } {
	out := make([]struct{ Start, Len uint64 }, len(a.free))
	for i, f := range a.free {
		out[i] = struct{ Start, Len uint64 }{f.Start, f.Len}
	}
	return out
}
