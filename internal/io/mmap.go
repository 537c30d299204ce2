package io

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"
)

// ErrReplaced is returned by Remap when the path stopped naming the open
// file while it was being mapped
var ErrReplaced = errors.New("file replaced while mapping")

// MappedFile is a memory mapping of an open File. A mapping covers the file
// as it was when mapped; call Remap to observe growth.
// It is not safe for concurrent Remap and ReadAt; the index scanner owns it.
type MappedFile struct {
	file   *File
	reader *mmap.ReaderAt
	size   int64
}

// NewMapped prepares a mapping of f. Nothing is mapped until Remap.
func NewMapped(f *File) *MappedFile {
	return &MappedFile{file: f}
}

// ReadAt reads len(p) bytes at offset
func (m *MappedFile) ReadAt(p []byte, off int64) (int, error) {
	if m.reader == nil {
		return 0, fmt.Errorf("read %s: not mapped", m.file.path)
	}
	return m.reader.ReadAt(p, off)
}

// Size returns the mapped size
func (m *MappedFile) Size() int64 {
	return m.size
}

// Close closes the memory mapping. The File stays open.
func (m *MappedFile) Close() error {
	if m.reader == nil {
		return nil
	}
	err := m.reader.Close()
	m.reader = nil
	return err
}

// Remap maps the open file again so that it reflects the current length.
// It reports whether the mapped size changed.
func (m *MappedFile) Remap() (bool, error) {
	path, viaHandle := m.file.mapPath()
	reader, err := mmap.Open(path)
	if err != nil {
		return false, fmt.Errorf("remap %s: %w", m.file.path, err)
	}
	if !viaHandle {
		info, err := os.Stat(m.file.path)
		if err != nil || !m.file.SameFile(info) {
			reader.Close()
			return false, fmt.Errorf("remap %s: %w", m.file.path, ErrReplaced)
		}
	}

	if m.reader != nil {
		m.reader.Close()
	}
	oldSize := m.size
	m.reader = reader
	m.size = int64(reader.Len())
	return m.size != oldSize, nil
}
