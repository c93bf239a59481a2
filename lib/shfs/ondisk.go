// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"fmt"

	"git.sr.ht/~simon/shfs-admin/lib/binstruct"
	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
)

const (
	// BootAreaLength is the size, in bytes, of the opaque boot area at the
	// start of chunk 0.
	BootAreaLength = 512

	// MaxTryMembers bounds the device list a caller may hand to Mount.
	MaxTryMembers = 16

	// LabelChunkBytes is the fixed-size unit chunk 0 is always read/written
	// as, regardless of the volume's chunk size.
	LabelChunkBytes = 4096

	labelMagic  = "SHFS1\x00\x00\x00"
	labelVersion = 1
)

// AllocatorKind names a free-space allocator strategy. First-fit is the
// only kind this tool understands; any other value on disk is MOUNT-FATAL.
type AllocatorKind uint8

const (
	AllocatorFirstFit AllocatorKind = iota
)

// CommonHeader is the fixed-layout label stored at BootAreaLength within
// chunk 0 of every member.
type CommonHeader struct {
	Magic      [8]byte             `bin:"off=0x00,siz=0x08"`
	Version    uint32              `bin:"off=0x08,siz=0x04"`
	VolUUID    UUID                `bin:"off=0x0c,siz=0x10"`
	VolName    [17]byte            `bin:"off=0x1c,siz=0x11"`
	VolSize    uint64              `bin:"off=0x2d,siz=0x08"`
	StripeSize uint32              `bin:"off=0x35,siz=0x04"`
	StripeMode uint8               `bin:"off=0x39,siz=0x01"`
	// OwnUUID is this reading member's own identity, distinct from Members
	// (the full declared-member list, identical across every member's
	// copy of the label) so the loader can tell which opened device fills
	// which declared slot.
	OwnUUID    UUID                `bin:"off=0x3a,siz=0x10"`
	NumMembers uint32              `bin:"off=0x4a,siz=0x04"`
	Members    [MaxTryMembers]UUID `bin:"off=0x4e,siz=0x100"`

	binstruct.End `bin:"off=0x14e"`
}

func (h *CommonHeader) detectLabel() error {
	if string(h.Magic[:6]) != labelMagic[:6] {
		return fmt.Errorf("invalid label: bad magic")
	}
	if h.Version != labelVersion {
		return fmt.Errorf("invalid label: unsupported version %d", h.Version)
	}
	return nil
}

func newCommonHeader() CommonHeader {
	var h CommonHeader
	copy(h.Magic[:], labelMagic)
	h.Version = labelVersion
	return h
}

func (h *CommonHeader) mode() shfsvol.StripeMode { return shfsvol.StripeMode(h.StripeMode) }

func (h *CommonHeader) name() string {
	n := 0
	for n < len(h.VolName) && h.VolName[n] != 0 {
		n++
	}
	return string(h.VolName[:n])
}

// ConfigHeader is the fixed-layout record stored in logical chunk 1.
type ConfigHeader struct {
	HtableRef     uint64 `bin:"off=0x00,siz=0x08"`
	HtableBakRef  uint64 `bin:"off=0x08,siz=0x08"`
	NbBuckets     uint32 `bin:"off=0x10,siz=0x04"`
	EntriesPerBkt uint32 `bin:"off=0x14,siz=0x04"`
	HLen          uint8  `bin:"off=0x18,siz=0x01"`
	Allocator     uint8  `bin:"off=0x19,siz=0x01"`
	// DigestKind selects which digest.Kind hashes objects added to this
	// volume; it is fixed at volume-creation time and read back at mount
	// so add-obj/cat-obj agree on which algorithm produced a stored hash.
	DigestKind uint8 `bin:"off=0x1a,siz=0x01"`

	binstruct.End `bin:"off=0x1b"`
}

// ParseCommonHeader decodes the common header out of a raw 4096-byte chunk-0
// buffer.
func ParseCommonHeader(raw []byte) (CommonHeader, error) {
	if len(raw) < LabelChunkBytes {
		return CommonHeader{}, fmt.Errorf("chunk 0 buffer is %d bytes, want %d", len(raw), LabelChunkBytes)
	}
	var hdr CommonHeader
	if _, err := binstruct.Unmarshal(raw[BootAreaLength:], &hdr); err != nil {
		return CommonHeader{}, err
	}
	if err := hdr.detectLabel(); err != nil {
		return CommonHeader{}, err
	}
	return hdr, nil
}

// MarshalCommonHeader encodes hdr back into a raw 4096-byte chunk-0 buffer,
// leaving the boot area and any trailing padding as whatever raw already
// contained (regenerate a zeroed buffer for a fresh label).
func MarshalCommonHeader(hdr CommonHeader, raw []byte) error {
	if len(raw) < LabelChunkBytes {
		return fmt.Errorf("chunk 0 buffer is %d bytes, want %d", len(raw), LabelChunkBytes)
	}
	buf, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	copy(raw[BootAreaLength:], buf)
	return nil
}

// ParseConfigHeader decodes the config header out of a raw chunk-1 buffer
// (chunksize bytes, decoded via stripe math — the caller already resolved
// that through the striped volume).
func ParseConfigHeader(raw []byte) (ConfigHeader, error) {
	var hdr ConfigHeader
	if _, err := binstruct.Unmarshal(raw, &hdr); err != nil {
		return ConfigHeader{}, err
	}
	return hdr, nil
}

func MarshalConfigHeader(hdr ConfigHeader, raw []byte) error {
	buf, err := binstruct.Marshal(hdr)
	if err != nil {
		return err
	}
	copy(raw, buf)
	return nil
}
