// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfsvol

import (
	"fmt"

	"git.sr.ht/~simon/shfs-admin/lib/diskio"
)

// StripedVolume is an ordered set of member disks plus the stripe
// parameters that describe how logical chunks are laid out across them.
// Member is usually *shfs's Device, but is generic so that tests can swap
// in in-memory fakes.
type StripedVolume[Member diskio.File[PhysicalAddr]] struct {
	members    []Member // indexed by declared member index
	stripeSize int64    // bytes
	mode       StripeMode
	chunkSize  int64 // bytes; derived
}

// NewStripedVolume validates the stripe parameters and wires up a volume
// over the given members, which must already be in declared-member order.
func NewStripedVolume[Member diskio.File[PhysicalAddr]](members []Member, stripeSize int64, mode StripeMode) (*StripedVolume[Member], error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("striped volume: no members")
	}
	if stripeSize < 4096 || !IsPowerOfTwo(stripeSize) {
		return nil, fmt.Errorf("striped volume: stripe size %d must be a power of two and at least 4096", stripeSize)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("striped volume: unsupported stripe mode %d", mode)
	}
	v := &StripedVolume[Member]{
		members:    members,
		stripeSize: stripeSize,
		mode:       mode,
	}
	switch mode {
	case COMBINED:
		v.chunkSize = stripeSize * int64(len(members))
	case INDEPENDENT:
		v.chunkSize = stripeSize
	}
	return v, nil
}

func (v *StripedVolume[Member]) ChunkSize() int64   { return v.chunkSize }
func (v *StripedVolume[Member]) StripeSize() int64  { return v.stripeSize }
func (v *StripedVolume[Member]) Mode() StripeMode   { return v.mode }
func (v *StripedVolume[Member]) NumMembers() int    { return len(v.members) }
func (v *StripedVolume[Member]) Members() []Member  { return v.members }
func (v *StripedVolume[Member]) Member(i int) Member { return v.members[i] }

// stripeLocation returns the (member-index, byte-offset) of stripe i
// (0 <= i < nb_members) of chunk c, for COMBINED mode.
func (v *StripedVolume[Member]) stripeLocation(c ChunkNum, i int) (int, PhysicalAddr) {
	nb := len(v.members)
	member := i % nb
	offset := PhysicalAddr(int64(c) * v.stripeSize)
	return member, offset
}

// chunkLocation returns the (member-index, byte-offset) of an entire chunk
// c, for INDEPENDENT mode.
func (v *StripedVolume[Member]) chunkLocation(c ChunkNum) (int, PhysicalAddr) {
	nb := int64(len(v.members))
	member := int(int64(c) % nb)
	offset := PhysicalAddr((int64(c) / nb) * v.stripeSize)
	return member, offset
}

// ReadChunks reads count consecutive chunks starting at start_chk into buf,
// which must be sized count*ChunkSize(). I/O against each member is
// positioned and retried to completion; on any I/O failure the operation
// returns an error and buf's contents are unspecified.
func (v *StripedVolume[Member]) ReadChunks(start ChunkNum, count uint64, buf []byte) error {
	if count == 0 {
		return fmt.Errorf("striped volume: ReadChunks: count must be >= 1")
	}
	if int64(len(buf)) != int64(count)*v.chunkSize {
		return fmt.Errorf("striped volume: ReadChunks: buf is %d bytes, want %d", len(buf), int64(count)*v.chunkSize)
	}
	for n := uint64(0); n < count; n++ {
		chunkBuf := buf[int64(n)*v.chunkSize : (int64(n)+1)*v.chunkSize]
		if err := v.readOneChunk(start+ChunkNum(n), chunkBuf); err != nil {
			return fmt.Errorf("striped volume: read chunk %d: %w", start+ChunkNum(n), err)
		}
	}
	return nil
}

// WriteChunks is the write-side mirror of ReadChunks.
func (v *StripedVolume[Member]) WriteChunks(start ChunkNum, count uint64, buf []byte) error {
	if count == 0 {
		return fmt.Errorf("striped volume: WriteChunks: count must be >= 1")
	}
	if int64(len(buf)) != int64(count)*v.chunkSize {
		return fmt.Errorf("striped volume: WriteChunks: buf is %d bytes, want %d", len(buf), int64(count)*v.chunkSize)
	}
	for n := uint64(0); n < count; n++ {
		chunkBuf := buf[int64(n)*v.chunkSize : (int64(n)+1)*v.chunkSize]
		if err := v.writeOneChunk(start+ChunkNum(n), chunkBuf); err != nil {
			return fmt.Errorf("striped volume: write chunk %d: %w", start+ChunkNum(n), err)
		}
	}
	return nil
}

func (v *StripedVolume[Member]) readOneChunk(c ChunkNum, chunkBuf []byte) error {
	switch v.mode {
	case INDEPENDENT:
		member, off := v.chunkLocation(c)
		return diskio.ReadAtFull[PhysicalAddr](v.members[member], chunkBuf, off)
	case COMBINED:
		nb := len(v.members)
		for i := 0; i < nb; i++ {
			member, off := v.stripeLocation(c, i)
			stripe := chunkBuf[int64(i)*v.stripeSize : int64(i+1)*v.stripeSize]
			if err := diskio.ReadAtFull[PhysicalAddr](v.members[member], stripe, off); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid stripe mode %d", v.mode)
	}
}

func (v *StripedVolume[Member]) writeOneChunk(c ChunkNum, chunkBuf []byte) error {
	switch v.mode {
	case INDEPENDENT:
		member, off := v.chunkLocation(c)
		return diskio.WriteAtFull[PhysicalAddr](v.members[member], chunkBuf, off)
	case COMBINED:
		nb := len(v.members)
		for i := 0; i < nb; i++ {
			member, off := v.stripeLocation(c, i)
			stripe := chunkBuf[int64(i)*v.stripeSize : int64(i+1)*v.stripeSize]
			if err := diskio.WriteAtFull[PhysicalAddr](v.members[member], stripe, off); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid stripe mode %d", v.mode)
	}
}

// MinMemberSize returns the minimum byte size a member must have to back a
// volume of volsize+1 logical chunks (chunks 0..volsize inclusive) under v's
// stripe mode.
func (v *StripedVolume[Member]) MinMemberSize(volSize uint64) int64 {
	nbChunks := int64(volSize) + 1
	switch v.mode {
	case COMBINED:
		return nbChunks * v.stripeSize
	case INDEPENDENT:
		return (nbChunks / int64(len(v.members))) * v.stripeSize
	default:
		return 0
	}
}

func (v *StripedVolume[Member]) Close() error {
	var firstErr error
	for _, m := range v.members {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
