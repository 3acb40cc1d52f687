// Package storage writes verified pieces to disk.
package storage

import (
	"errors"
	"fmt"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrOutOfRange  = errors.New("write out of range")
)

type Storage interface {
	WritePiece(index int, offset int64, data []byte) error
	Close() error
}

// Open lays out the torrent under output. A single file torrent is written to
// output itself, a multi file torrent to a directory named output.
func Open(output string, info models.Info) (Storage, error) {
	if len(info.Files) == 0 || (len(info.Files) == 1 && len(info.Files[0].Path) == 1 && info.Files[0].Path[0] == info.Name) {
		return Create(output, int64(info.Length))
	}
	return CreateFiles(output, info.Files)
}

func checkRange(offset int64, n int, length int64) error {
	if offset < 0 || offset+int64(n) > length {
		return fmt.Errorf("%w: %d bytes at offset %d of %d", ErrOutOfRange, n, offset, length)
	}
	return nil
}
