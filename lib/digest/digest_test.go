// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package digest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~simon/shfs-admin/lib/digest"
)

func TestNewRejectsBadHLen(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		HLen    int
		WantErr bool
	}
	testcases := map[string]TestCase{
		"zero":     {HLen: 0, WantErr: true},
		"too-long": {HLen: 65, WantErr: true},
		"min":      {HLen: 1},
		"max":      {HLen: 64},
		"typical":  {HLen: 32},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			_, err := digest.New(digest.SHA256, tc.HLen)
			if tc.WantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSumLengthMatchesHLen(t *testing.T) {
	t.Parallel()
	for _, kind := range []digest.Kind{digest.SHA256, digest.BLAKE2} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()
			for _, hlen := range []int{1, 16, 32, 48, 64} {
				d, err := digest.New(kind, hlen)
				require.NoError(t, err)
				_, err = d.Write([]byte("hello, shfs"))
				require.NoError(t, err)
				assert.Len(t, d.Sum(), hlen)
				assert.Equal(t, hlen, d.Len())
			}
		})
	}
}

func TestSumIsDeterministic(t *testing.T) {
	t.Parallel()
	mk := func() []byte {
		d, err := digest.New(digest.SHA256, 32)
		require.NoError(t, err)
		_, _ = d.Write([]byte("the quick brown fox"))
		return d.Sum()
	}
	assert.Equal(t, mk(), mk())
}

func TestDifferentContentDifferentSum(t *testing.T) {
	t.Parallel()
	sumOf := func(s string) []byte {
		d, err := digest.New(digest.SHA256, 32)
		require.NoError(t, err)
		_, _ = d.Write([]byte(s))
		return d.Sum()
	}
	assert.NotEqual(t, sumOf("a"), sumOf("b"))
}
