// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~simon/shfs-admin/lib/digest"
	"git.sr.ht/~simon/shfs-admin/lib/shfs"
	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
)

// buildFreshVolume lays out a brand-new single-member INDEPENDENT volume
// on disk and returns its path: chunk 0 common header, chunk 1 config
// header, a zeroed (fully vacant) hash table at chunks [2,4).
func buildFreshVolume(t *testing.T) string {
	t.Helper()
	const (
		stripeSize = 4096
		nbBuckets  = 8
		epb        = 4
		hlen       = 32
		htableRef  = 2
		htableLen  = 2
		volSize    = 20 // chunks 0..20
	)

	f, err := os.CreateTemp(t.TempDir(), "member-*.img")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate((volSize + 1) * stripeSize))

	memberUUID := shfs.FromGoogle(uuid.New())
	hdr := shfs.CommonHeader{
		Version:    1,
		VolUUID:    shfs.FromGoogle(uuid.New()),
		VolSize:    volSize,
		StripeSize: stripeSize,
		StripeMode: uint8(shfsvol.INDEPENDENT),
		OwnUUID:    memberUUID,
		NumMembers: 1,
	}
	copy(hdr.Magic[:], "SHFS1\x00\x00\x00")
	copy(hdr.VolName[:], "testvol")
	hdr.Members[0] = memberUUID

	raw0 := make([]byte, shfs.LabelChunkBytes)
	require.NoError(t, shfs.MarshalCommonHeader(hdr, raw0))
	_, err = f.WriteAt(raw0, 0)
	require.NoError(t, err)

	cfg := shfs.ConfigHeader{
		HtableRef:     htableRef,
		HtableBakRef:  0,
		NbBuckets:     nbBuckets,
		EntriesPerBkt: epb,
		HLen:          hlen,
		Allocator:     uint8(shfs.AllocatorFirstFit),
	}
	raw1 := make([]byte, stripeSize)
	require.NoError(t, shfs.MarshalConfigHeader(cfg, raw1))
	_, err = f.WriteAt(raw1, stripeSize) // chunk 1, INDEPENDENT single member
	require.NoError(t, err)

	return f.Name()
}

func TestMountFreshVolumeHasNoEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := buildFreshVolume(t)

	vol, err := shfs.Mount(ctx, []string{path}, os.O_RDWR)
	require.NoError(t, err)
	defer vol.Unmount(ctx)

	n := 0
	_ = vol.Buckets.Iterate(func(shfs.EntryIndex, []byte) error { n++; return nil })
	assert.Equal(t, 0, n)
}

func TestAddObjThenCatObjRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := buildFreshVolume(t)

	vol, err := shfs.Mount(ctx, []string{path}, os.O_RDWR)
	require.NoError(t, err)
	defer vol.Unmount(ctx)

	objPath := filepath.Join(t.TempDir(), "a.bin")
	content := bytes.Repeat([]byte{0}, 5000)
	require.NoError(t, os.WriteFile(objPath, content, 0o600))

	var out bytes.Buffer
	engine := shfs.NewEngine(vol, digest.SHA256, nil, &out)

	results := engine.Run(ctx, []shfs.ActionToken{shfs.AddObj{Path: objPath}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	var hashHex string
	_ = vol.Buckets.Iterate(func(_ shfs.EntryIndex, hash []byte) error {
		hashHex = hex.EncodeToString(hash)
		return nil
	})
	require.NotEmpty(t, hashHex)

	out.Reset()
	results = engine.Run(ctx, []shfs.ActionToken{shfs.CatObj{HashHex: hashHex}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, content, out.Bytes())
}

func TestAddObjDuplicateIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := buildFreshVolume(t)

	vol, err := shfs.Mount(ctx, []string{path}, os.O_RDWR)
	require.NoError(t, err)
	defer vol.Unmount(ctx)

	objPath := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(objPath, []byte("same content"), 0o600))

	var out bytes.Buffer
	engine := shfs.NewEngine(vol, digest.SHA256, nil, &out)

	results := engine.Run(ctx, []shfs.ActionToken{
		shfs.AddObj{Path: objPath},
		shfs.AddObj{Path: objPath},
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	var ae *shfs.ActionError
	require.ErrorAs(t, results[1].Err, &ae)
	assert.Equal(t, shfs.Duplicate, ae.Kind)
}

func TestSetDefaultIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := buildFreshVolume(t)

	vol, err := shfs.Mount(ctx, []string{path}, os.O_RDWR)
	require.NoError(t, err)
	defer vol.Unmount(ctx)

	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.bin")
	p2 := filepath.Join(dir, "two.bin")
	require.NoError(t, os.WriteFile(p1, []byte("one"), 0o600))
	require.NoError(t, os.WriteFile(p2, []byte("two"), 0o600))

	var out bytes.Buffer
	engine := shfs.NewEngine(vol, digest.SHA256, nil, &out)
	results := engine.Run(ctx, []shfs.ActionToken{
		shfs.AddObj{Path: p1},
		shfs.AddObj{Path: p2},
	})
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)

	var hashes []string
	_ = vol.Buckets.Iterate(func(_ shfs.EntryIndex, hash []byte) error {
		hashes = append(hashes, hex.EncodeToString(hash))
		return nil
	})
	require.Len(t, hashes, 2)

	results = engine.Run(ctx, []shfs.ActionToken{shfs.SetDefaultTok{HashHex: hashes[0]}})
	require.NoError(t, results[0].Err)
	results = engine.Run(ctx, []shfs.ActionToken{shfs.SetDefaultTok{HashHex: hashes[1]}})
	require.NoError(t, results[0].Err)

	idx, ok := vol.Buckets.DefaultIndex()
	require.True(t, ok)
	view, err := vol.Cache.EntryAt(idx)
	require.NoError(t, err)
	assert.Equal(t, hashes[1], hex.EncodeToString(view.Hash()))
}
