// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"git.sr.ht/~simon/shfs-admin/lib/digest"
	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
)

// MemberInfo is what the loader knows about one opened member after
// validating its label.
type MemberInfo struct {
	UUID UUID
	Path string
}

// VolumeMetadata is the full set of volume-level facts assembled by the
// loader out of the common and config headers. It is a plain value kept
// apart from the live StripedVolume/ChunkCache/BucketTable/Allocator, so it
// can be dumped on its own (the CLI's -vv output). The "info" action runs
// on a mounted volume and re-reads the headers from disk.
type VolumeMetadata struct {
	VolUUID    UUID
	VolName    string
	VolSize    uint64
	ChunkSize  int64
	StripeSize uint32
	StripeMode shfsvol.StripeMode
	Members    []MemberInfo

	HtableRef        uint64
	HtableBakRef     uint64 // 0 if absent
	NbBuckets        uint32
	EntriesPerBucket uint32
	HLen             uint8
	Allocator        AllocatorKind
	DigestKind       digest.Kind

	NbEntries         uint64
	NbEntriesPerChunk uint32
	HtableLenChunks   uint64
}
