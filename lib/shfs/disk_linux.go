// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// blockSizeOf returns f's logical sector size via the BLKSSZGET ioctl when
// f is a block device, and 512 for anything else (regular files used as
// volume images, as in tests).
func blockSizeOf(f *os.File) (int, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 512, nil
	}
	return size, nil
}
