package storage

import (
	"os"
	"path/filepath"
)

// File is a single output file of a known length. The file is not sized
// up front: it only grows with the pieces written, so a failed download
// leaves the verified prefix and nothing past it.
type File struct {
	f      *os.File
	length int64
}

// Create truncates or creates path. length bounds the writes.
func Create(path string, length int64) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &File{f: f, length: length}, nil
}

func (f *File) WritePiece(index int, offset int64, data []byte) error {
	if err := checkRange(offset, len(data), f.length); err != nil {
		return err
	}
	_, err := f.f.WriteAt(data, offset)
	return err
}

func (f *File) Close() error {
	return f.f.Close()
}
