// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"

	"git.sr.ht/~simon/shfs-admin/lib/digest"
	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
	"git.sr.ht/~simon/shfs-admin/lib/util"
)

// Volume is a fully mounted SHFS volume: the striped member set, the
// loaded metadata, and the three coupled index structures the Action
// Engine operates on.
type Volume struct {
	Meta    VolumeMetadata
	vol     *shfsvol.StripedVolume[*Device]
	Cache   *ChunkCache
	Buckets *BucketTable
	Alloc   *Allocator
}

// Mount loads devicePaths in the given order into a Volume: load_vol_cconf
// (open members, validate and cross-reference labels, assemble the striped
// volume) -> load_vol_hconf (read the config header) -> load_vol_htable
// (scan the hash table into the bucket table) -> load_vol_alist (replay
// fixed + per-entry chunk reservations into the allocator). Each step is
// fatal on failure and rolls back devices opened by prior steps.
func Mount(ctx context.Context, devicePaths []string, flag int) (*Volume, error) {
	if len(devicePaths) < 1 || len(devicePaths) > MaxTryMembers {
		return nil, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("got %d device paths, want 1..%d", len(devicePaths), MaxTryMembers)}
	}

	vol, meta, err := loadVolCConf(devicePaths, flag)
	if err != nil {
		return nil, err
	}

	if err := loadVolHConf(vol, &meta); err != nil {
		vol.Close()
		return nil, err
	}

	cache := newChunkCache(vol, shfsvol.ChunkNum(meta.HtableRef), shfsvol.ChunkNum(meta.HtableBakRef), meta.HtableLenChunks, meta.NbEntriesPerChunk, int(meta.HLen))
	buckets, err := loadVolHTable(cache, &meta)
	if err != nil {
		vol.Close()
		return nil, err
	}

	alloc, err := loadVolAList(cache, buckets, &meta)
	if err != nil {
		vol.Close()
		return nil, err
	}

	dlog.Infof(ctx, "mounted volume %s (%q), %d members, %d bytes/chunk", meta.VolUUID, meta.VolName, len(meta.Members), meta.ChunkSize)

	return &Volume{Meta: meta, vol: vol, Cache: cache, Buckets: buckets, Alloc: alloc}, nil
}

// loadVolCConf opens every device, validates
// and cross-reference the common header each carries, and assemble a
// StripedVolume in declared-member order.
func loadVolCConf(devicePaths []string, flag int) (*shfsvol.StripedVolume[*Device], VolumeMetadata, error) {
	devices := make([]*Device, 0, len(devicePaths))
	rollback := func() {
		for _, d := range devices {
			d.Close()
		}
	}

	type detected struct {
		dev *Device
		hdr CommonHeader
	}
	var found []detected

	for _, path := range devicePaths {
		dev, err := OpenDevice(path, flag)
		if err != nil {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: err.Error()}
		}
		devices = append(devices, dev)

		if dev.BlockSize() < 512 || !shfsvol.IsPowerOfTwo(int64(dev.BlockSize())) {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("member %q: block size %d must be >=512 and a power of two", path, dev.BlockSize())}
		}

		raw := make([]byte, LabelChunkBytes)
		if _, err := dev.ReadAt(raw, 0); err != nil {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("member %q: read chunk 0: %v", path, err)}
		}
		hdr, err := ParseCommonHeader(raw)
		if err != nil {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("member %q: %v", path, err)}
		}
		found = append(found, detected{dev: dev, hdr: hdr})
	}

	primary := found[0].hdr
	declaredCount := int(primary.NumMembers)
	if declaredCount != len(devicePaths) {
		rollback()
		return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("declared member count %d does not match %d opened devices", declaredCount, len(devicePaths))}
	}

	ordered := make([]*Device, declaredCount)
	memberInfos := make([]MemberInfo, declaredCount)
	seen := util.NewSet[UUID]()
	for i := 0; i < declaredCount; i++ {
		want := primary.Members[i]
		if seen.Has(want) {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("declared member %d (%s) is a duplicate", i, want)}
		}
		seen.Insert(want)

		var match *detected
		for j := range found {
			if found[j].hdr.VolUUID != primary.VolUUID {
				continue
			}
			if found[j].hdr.OwnUUID == want {
				match = &found[j]
				break
			}
		}
		if match == nil {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("declared member %d (%s) not found among opened devices", i, want)}
		}
		ordered[i] = match.dev
		memberInfos[i] = MemberInfo{UUID: want, Path: match.dev.Path()}
	}

	mode := primary.mode()
	if !mode.Valid() {
		rollback()
		return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("unsupported stripe mode %d", primary.StripeMode)}
	}

	vol, err := shfsvol.NewStripedVolume[*Device](ordered, int64(primary.StripeSize), mode)
	if err != nil {
		rollback()
		return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: err.Error()}
	}

	minSize := vol.MinMemberSize(primary.VolSize)
	for i, d := range ordered {
		fi, err := statSize(d.Path())
		if err != nil {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: err.Error()}
		}
		if fi < minSize {
			rollback()
			return nil, VolumeMetadata{}, &MountError{Step: "load_vol_cconf", Message: fmt.Sprintf("member %d (%s) is %d bytes, want at least %d", i, memberInfos[i].Path, fi, minSize)}
		}
	}

	meta := VolumeMetadata{
		VolUUID:    primary.VolUUID,
		VolName:    primary.name(),
		VolSize:    primary.VolSize,
		ChunkSize:  vol.ChunkSize(),
		StripeSize: primary.StripeSize,
		StripeMode: mode,
		Members:    memberInfos,
	}
	return vol, meta, nil
}

func statSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", path, err)
	}
	return fi.Size(), nil
}

// loadVolHConf reads logical chunk 1 (the config header) and fills in the
// derived totals of meta.
func loadVolHConf(vol *shfsvol.StripedVolume[*Device], meta *VolumeMetadata) error {
	raw := make([]byte, vol.ChunkSize())
	if err := vol.ReadChunks(1, 1, raw); err != nil {
		return &MountError{Step: "load_vol_hconf", Message: err.Error()}
	}
	hdr, err := ParseConfigHeader(raw)
	if err != nil {
		return &MountError{Step: "load_vol_hconf", Message: err.Error()}
	}
	if AllocatorKind(hdr.Allocator) != AllocatorFirstFit {
		return &MountError{Step: "load_vol_hconf", Message: fmt.Sprintf("unsupported allocator kind %d", hdr.Allocator)}
	}
	if hdr.HLen < 1 || hdr.HLen > 64 {
		return &MountError{Step: "load_vol_hconf", Message: fmt.Sprintf("invalid hlen %d", hdr.HLen)}
	}
	digestKind := digest.Kind(hdr.DigestKind)
	if digestKind != digest.SHA256 && digestKind != digest.BLAKE2 {
		return &MountError{Step: "load_vol_hconf", Message: fmt.Sprintf("unsupported digest kind %d", hdr.DigestKind)}
	}

	nbEntries := uint64(hdr.NbBuckets) * uint64(hdr.EntriesPerBkt)
	entriesPerChunk := uint32(vol.ChunkSize() / int64(entrySize(int(hdr.HLen))))
	if entriesPerChunk == 0 {
		return &MountError{Step: "load_vol_hconf", Message: "chunk size too small to hold even one hash entry"}
	}
	htableLen := util.CeilDiv(nbEntries, uint64(entriesPerChunk))

	meta.HtableRef = hdr.HtableRef
	meta.HtableBakRef = hdr.HtableBakRef
	meta.NbBuckets = hdr.NbBuckets
	meta.EntriesPerBucket = hdr.EntriesPerBkt
	meta.HLen = hdr.HLen
	meta.Allocator = AllocatorKind(hdr.Allocator)
	meta.DigestKind = digestKind
	meta.NbEntries = nbEntries
	meta.NbEntriesPerChunk = entriesPerChunk
	meta.HtableLenChunks = htableLen
	return nil
}

// loadVolHTable scans every hash-table entry through the chunk cache
// (which lazily loads each backing chunk exactly once) and seats occupied
// entries into a fresh BucketTable.
func loadVolHTable(cache *ChunkCache, meta *VolumeMetadata) (*BucketTable, error) {
	buckets := NewBucketTable(meta.NbBuckets, meta.EntriesPerBucket, int(meta.HLen))
	for i := uint64(0); i < meta.NbEntries; i++ {
		view, err := cache.EntryAt(EntryIndex(i))
		if err != nil {
			return nil, &MountError{Step: "load_vol_htable", Message: err.Error()}
		}
		if view.IsVacant() {
			continue
		}
		buckets.Feed(EntryIndex(i), view.Hash())
		if view.Flags()&FlagDefault != 0 {
			buckets.SetDefault(EntryIndex(i))
		}
	}
	return buckets, nil
}

// loadVolAList replays the fixed regions (label+config, hash table,
// optional backup) and one reservation per occupied entry into a fresh
// Allocator.
func loadVolAList(cache *ChunkCache, buckets *BucketTable, meta *VolumeMetadata) (*Allocator, error) {
	alloc := NewAllocator(meta.VolSize + 1)
	if err := alloc.Register(0, 2); err != nil {
		return nil, &MountError{Step: "load_vol_alist", Message: err.Error()}
	}
	if err := alloc.Register(meta.HtableRef, meta.HtableLenChunks); err != nil {
		return nil, &MountError{Step: "load_vol_alist", Message: err.Error()}
	}
	if meta.HtableBakRef != 0 {
		if err := alloc.Register(meta.HtableBakRef, meta.HtableLenChunks); err != nil {
			return nil, &MountError{Step: "load_vol_alist", Message: err.Error()}
		}
	}

	err := buckets.Iterate(func(idx EntryIndex, hash []byte) error {
		view, err := cache.EntryAt(idx)
		if err != nil {
			return err
		}
		span := uint64(util.CeilDiv(view.Offset()+view.Len(), uint32(meta.ChunkSize)))
		if span == 0 {
			span = 1
		}
		return alloc.Register(view.Chunk(), span)
	})
	if err != nil {
		return nil, &MountError{Step: "load_vol_alist", Message: err.Error()}
	}
	return alloc, nil
}

// readHeadersFresh re-reads chunk 0 and chunk 1 directly off the striped
// volume, bypassing the in-memory metadata loaded at mount -- info
// re-reads rather than trusting cached state.
func (v *Volume) readHeadersFresh() (CommonHeader, ConfigHeader, error) {
	// Chunk 0 is always a raw 4096-byte read at byte offset 0 of the first
	// member, independent of chunksize, since chunksize itself isn't known
	// until the label has been parsed.
	raw0 := make([]byte, LabelChunkBytes)
	if _, err := v.vol.Member(0).ReadAt(raw0, 0); err != nil {
		return CommonHeader{}, ConfigHeader{}, fmt.Errorf("info: read chunk 0: %w", err)
	}
	chdr, err := ParseCommonHeader(raw0)
	if err != nil {
		return CommonHeader{}, ConfigHeader{}, fmt.Errorf("info: %w", err)
	}

	raw1 := make([]byte, v.vol.ChunkSize())
	if err := v.vol.ReadChunks(1, 1, raw1); err != nil {
		return CommonHeader{}, ConfigHeader{}, fmt.Errorf("info: read chunk 1: %w", err)
	}
	cfg, err := ParseConfigHeader(raw1)
	if err != nil {
		return CommonHeader{}, ConfigHeader{}, fmt.Errorf("info: %w", err)
	}
	return chdr, cfg, nil
}

// Unmount flushes every dirty hash-table chunk (primary then backup) and
// closes every member disk. It always attempts cleanup, even if the
// caller is unwinding after action failures or cancellation.
func (v *Volume) Unmount(ctx context.Context) error {
	flushErr := v.Cache.FlushAll(ctx)
	closeErr := v.vol.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
