// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package util holds small generic helpers shared by the rest of the
// module; nothing here is specific to volumes, hash entries, or chunks.
package util

import "golang.org/x/exp/constraints"

// CeilDiv returns ceil(a/b) for non-negative integers -- the recurring
// "how many chunks does this many bytes need" computation used by
// add-obj/rm-obj/ls chunk-span math.
func CeilDiv[T constraints.Integer](a, b T) T {
	if a == 0 {
		return 0
	}
	return ((a - 1) / b) + 1
}
