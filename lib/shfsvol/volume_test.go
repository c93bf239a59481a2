// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfsvol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
)

// memFile is an in-memory diskio.File[PhysicalAddr] fake, standing in for
// a real member disk in tests.
type memFile struct {
	name string
	buf  []byte
}

func newMemFile(name string, size int64) *memFile { return &memFile{name: name, buf: make([]byte, size)} }

func (f *memFile) Name() string                  { return f.name }
func (f *memFile) Size() shfsvol.PhysicalAddr     { return shfsvol.PhysicalAddr(len(f.buf)) }
func (f *memFile) Close() error                   { return nil }
func (f *memFile) ReadAt(p []byte, off shfsvol.PhysicalAddr) (int, error) {
	n := copy(p, f.buf[off:])
	return n, nil
}
func (f *memFile) WriteAt(p []byte, off shfsvol.PhysicalAddr) (int, error) {
	n := copy(f.buf[off:], p)
	return n, nil
}

func TestNewStripedVolumeValidation(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		StripeSize int64
		Mode       shfsvol.StripeMode
		NumMembers int
		WantErr    bool
	}
	testcases := map[string]TestCase{
		"ok-combined":       {StripeSize: 4096, Mode: shfsvol.COMBINED, NumMembers: 3},
		"ok-independent":    {StripeSize: 8192, Mode: shfsvol.INDEPENDENT, NumMembers: 2},
		"too-small-stripe":  {StripeSize: 2048, Mode: shfsvol.COMBINED, NumMembers: 1, WantErr: true},
		"non-pow2-stripe":   {StripeSize: 6000, Mode: shfsvol.COMBINED, NumMembers: 1, WantErr: true},
		"invalid-mode":      {StripeSize: 4096, Mode: shfsvol.StripeMode(99), NumMembers: 1, WantErr: true},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			members := make([]*memFile, tc.NumMembers)
			for i := range members {
				members[i] = newMemFile("m", 1<<20)
			}
			_, err := shfsvol.NewStripedVolume[*memFile](members, tc.StripeSize, tc.Mode)
			if tc.WantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIndependentRoundTrip(t *testing.T) {
	t.Parallel()
	members := []*memFile{newMemFile("a", 1<<16), newMemFile("b", 1<<16)}
	vol, err := shfsvol.NewStripedVolume[*memFile](members, 4096, shfsvol.INDEPENDENT)
	require.NoError(t, err)
	require.EqualValues(t, 4096, vol.ChunkSize())

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, vol.WriteChunks(3, 1, want))

	got := make([]byte, 4096)
	require.NoError(t, vol.ReadChunks(3, 1, got))
	assert.Equal(t, want, got)

	// chunk 3 is odd, so it must have landed on member 1 (3 % 2 == 1), at
	// member-local offset (3 / 2) * 4096 == 4096.
	assert.NotEqual(t, make([]byte, 4096), members[1].buf[4096:8192])
}

func TestCombinedRoundTrip(t *testing.T) {
	t.Parallel()
	members := []*memFile{newMemFile("a", 1<<16), newMemFile("b", 1<<16), newMemFile("c", 1<<16)}
	vol, err := shfsvol.NewStripedVolume[*memFile](members, 4096, shfsvol.COMBINED)
	require.NoError(t, err)
	require.EqualValues(t, 4096*3, vol.ChunkSize())

	want := make([]byte, vol.ChunkSize())
	for i := range want {
		want[i] = byte(i % 251)
	}
	require.NoError(t, vol.WriteChunks(1, 1, want))

	got := make([]byte, vol.ChunkSize())
	require.NoError(t, vol.ReadChunks(1, 1, got))
	assert.Equal(t, want, got)

	for _, m := range members {
		assert.NotEqual(t, make([]byte, 4096), m.buf[4096:8192])
	}
}

func TestMinMemberSize(t *testing.T) {
	t.Parallel()
	members := []*memFile{newMemFile("a", 1), newMemFile("b", 1)}
	combined, err := shfsvol.NewStripedVolume[*memFile](members, 4096, shfsvol.COMBINED)
	require.NoError(t, err)
	assert.EqualValues(t, (1000+1)*4096, combined.MinMemberSize(1000))

	independent, err := shfsvol.NewStripedVolume[*memFile](members, 4096, shfsvol.INDEPENDENT)
	require.NoError(t, err)
	assert.EqualValues(t, ((1000+1)/2)*4096, independent.MinMemberSize(1000))
}
