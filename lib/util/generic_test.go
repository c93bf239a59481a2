// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.sr.ht/~simon/shfs-admin/lib/util"
)

func TestCeilDiv(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		A, B, Want int64
	}
	testcases := map[string]TestCase{
		"exact":     {A: 10, B: 5, Want: 2},
		"remainder": {A: 11, B: 5, Want: 3},
		"zero":      {A: 0, B: 5, Want: 0},
		"one-byte":  {A: 1, B: 4096, Want: 1},
		"one-chunk": {A: 4096, B: 4096, Want: 1},
		"one-over":  {A: 4097, B: 4096, Want: 2},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Want, util.CeilDiv(tc.A, tc.B))
		})
	}
}
