// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package shfs

import "os"

// blockSizeOf falls back to 512 bytes on platforms without BLKSSZGET.
func blockSizeOf(f *os.File) (int, error) {
	return 512, nil
}
