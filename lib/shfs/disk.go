// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"fmt"
	"os"

	"git.sr.ht/~simon/shfs-admin/lib/diskio"
	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
)

// Device wraps an opened member file with the few bits of identity the
// volume loader needs before a StripedVolume exists: its path and its
// logical block size. The UUID a member claims is read from its label by
// the loader, not kept here.
type Device struct {
	*diskio.OSFile[shfsvol.PhysicalAddr]
	path      string
	blockSize int
}

var _ diskio.File[shfsvol.PhysicalAddr] = (*Device)(nil)

// OpenDevice opens path with the given os.OpenFile flag (read-only or
// read/write) and determines its logical
// block size, falling back to 512 bytes for anything that isn't a real
// block device (regular files used as volume images in tests, for
// instance).
func OpenDevice(path string, flag int) (*Device, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open member %q: %w", path, err)
	}
	bs, err := blockSizeOf(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open member %q: %w", path, err)
	}
	return &Device{
		OSFile:    &diskio.OSFile[shfsvol.PhysicalAddr]{File: f},
		path:      path,
		blockSize: bs,
	}, nil
}

func (d *Device) Path() string     { return d.path }
func (d *Device) BlockSize() int   { return d.blockSize }
