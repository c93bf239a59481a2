// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
)

// EntryIndex is a flat index, 0..htable_nb_entries-1, into the hash table.
type EntryIndex uint64

type cacheSlot struct {
	buf    []byte
	loaded bool
	dirty  bool
}

// ChunkCache is the hash-entry chunk cache: one slot per
// hash-table chunk, lazily loaded, flushed to the primary (and optional
// backup) hash-table region at unmount. It is the sole owner of hash-table
// chunk buffers; the Bucket Table only holds (chunk,offset) coordinates
// into it.
type ChunkCache struct {
	vol             *shfsvol.StripedVolume[*Device]
	htableRef       shfsvol.ChunkNum
	htableBakRef    shfsvol.ChunkNum // 0 means absent
	htableLen       uint64           // chunks
	entriesPerChunk uint32
	entrySizeBytes  int
	hlen            int
	chunkSize       int64

	slots []cacheSlot // len htableLen
}

func newChunkCache(vol *shfsvol.StripedVolume[*Device], htableRef, htableBakRef shfsvol.ChunkNum, htableLen uint64, entriesPerChunk uint32, hlen int) *ChunkCache {
	return &ChunkCache{
		vol:             vol,
		htableRef:       htableRef,
		htableBakRef:    htableBakRef,
		htableLen:       htableLen,
		entriesPerChunk: entriesPerChunk,
		entrySizeBytes:  entrySize(hlen),
		hlen:            hlen,
		chunkSize:       vol.ChunkSize(),
		slots:           make([]cacheSlot, htableLen),
	}
}

// Locate returns which hash-table chunk (relative to htable_ref) and which
// byte offset within it holds entry index.
func (c *ChunkCache) Locate(index EntryIndex) (relChunk uint64, byteOffset int) {
	relChunk = uint64(index) / uint64(c.entriesPerChunk)
	byteOffset = int(uint64(index)%uint64(c.entriesPerChunk)) * c.entrySizeBytes
	return relChunk, byteOffset
}

func (c *ChunkCache) ensureLoaded(relChunk uint64) error {
	slot := &c.slots[relChunk]
	if slot.loaded {
		return nil
	}
	buf := make([]byte, c.chunkSize)
	if err := c.vol.ReadChunks(c.htableRef+shfsvol.ChunkNum(relChunk), 1, buf); err != nil {
		return fmt.Errorf("chunk cache: load htable chunk %d: %w", relChunk, err)
	}
	slot.buf = buf
	slot.loaded = true
	return nil
}

// EntryAt returns a view into the loaded chunk buffer for entry index,
// loading the backing chunk on first access.
func (c *ChunkCache) EntryAt(index EntryIndex) (*HashEntryView, error) {
	relChunk, off := c.Locate(index)
	if relChunk >= c.htableLen {
		return nil, fmt.Errorf("chunk cache: entry index %d is out of range", index)
	}
	if err := c.ensureLoaded(relChunk); err != nil {
		return nil, err
	}
	return newHashEntryView(c.slots[relChunk].buf[off:], c.hlen), nil
}

// MarkDirtyForEntry flags the hash-table chunk backing index as dirty.
func (c *ChunkCache) MarkDirtyForEntry(index EntryIndex) {
	relChunk, _ := c.Locate(index)
	c.slots[relChunk].dirty = true
}

// FlushAll writes every dirty slot to the primary hash-table region and
// (if present) the backup region, primary-then-backup per slot so that a
// crash between the two writes leaves the primary consistent.
// It is best-effort: a write failure is logged as a potential-corruption
// warning and flushing continues with the remaining slots.
func (c *ChunkCache) FlushAll(ctx context.Context) error {
	var errs derror.MultiError
	for rel := range c.slots {
		slot := &c.slots[rel]
		if !slot.dirty {
			continue
		}
		primaryChunk := c.htableRef + shfsvol.ChunkNum(rel)
		if err := c.vol.WriteChunks(primaryChunk, 1, slot.buf); err != nil {
			dlog.Errorf(ctx, "FATAL-CORRUPTION-WARNING: flush htable chunk %d (primary): %v", rel, err)
			errs = append(errs, fmt.Errorf("flush htable chunk %d (primary): %w", rel, err))
			continue
		}
		if c.htableBakRef != 0 {
			bakChunk := c.htableBakRef + shfsvol.ChunkNum(rel)
			if err := c.vol.WriteChunks(bakChunk, 1, slot.buf); err != nil {
				dlog.Errorf(ctx, "FATAL-CORRUPTION-WARNING: flush htable chunk %d (backup): %v", rel, err)
				errs = append(errs, fmt.Errorf("flush htable chunk %d (backup): %w", rel, err))
				continue
			}
		}
		slot.dirty = false
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
