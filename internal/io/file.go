package io

import (
	"errors"
	"fmt"
	stdio "io"
	"os"
	"runtime"
)

// File is a read-only handle used for positional reads. Every read is an
// explicit byte-range ReadAt, so one File can be shared by any number of
// goroutines without a shared cursor.
type File struct {
	f    *os.File
	path string
	info os.FileInfo
}

// Open opens path read-only and records its identity
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, path: path, info: info}, nil
}

// ReadAt reads len(p) bytes at offset. A short read at end of file is not an
// error when at least one byte was read.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.f.ReadAt(p, off)
	if errors.Is(err, stdio.EOF) && n > 0 {
		return n, nil
	}
	return n, err
}

// SameFile reports whether info describes the file this handle was opened on
func (f *File) SameFile(info os.FileInfo) bool {
	if f == nil || f.info == nil || info == nil {
		return false
	}
	return os.SameFile(f.info, info)
}

// mapPath names the open file for mapping. On Linux the descriptor's /proc
// entry refers to this handle even after the path has been rotated away; it
// reports true in that case.
func (f *File) mapPath() (string, bool) {
	if runtime.GOOS == "linux" {
		p := fmt.Sprintf("/proc/self/fd/%d", f.f.Fd())
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return f.path, false
}

// Close closes the handle. Reads after Close fail with os.ErrClosed.
func (f *File) Close() error {
	return f.f.Close()
}
