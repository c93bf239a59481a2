// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import "io"

// ReadAtFull calls f.ReadAt repeatedly until dat is completely filled or an
// error (other than a short read) occurs. A short read is not itself an
// error condition for File[A] implementations backed by a raw block device,
// but callers must not assume a single ReadAt call fills the buffer.
func ReadAtFull[A ~int64](f File[A], dat []byte, off A) error {
	done := 0
	for done < len(dat) {
		n, err := f.ReadAt(dat[done:], off+A(done))
		done += n
		if err != nil {
			if err == io.EOF && done == len(dat) {
				return nil
			}
			return err
		}
		if n == 0 {
			return io.ErrNoProgress
		}
	}
	return nil
}

// WriteAtFull calls f.WriteAt repeatedly until all of dat has been written or
// an error occurs.
func WriteAtFull[A ~int64](f File[A], dat []byte, off A) error {
	done := 0
	for done < len(dat) {
		n, err := f.WriteAt(dat[done:], off+A(done))
		done += n
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrNoProgress
		}
	}
	return nil
}
