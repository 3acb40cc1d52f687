package logic

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

var ErrBlockOutOfRange = errors.New("block out of range")

// PieceBuffer holds one piece while its blocks arrive. Writes are placed by
// offset only, so the arrival order does not matter.
type PieceBuffer struct {
	data    []byte
	written *roaring.Bitmap
}

func NewPieceBuffer(size int) *PieceBuffer {
	return &PieceBuffer{data: make([]byte, size), written: roaring.New()}
}

// Put copies block at begin.
func (b *PieceBuffer) Put(begin int, block []byte) error {
	if begin < 0 || begin+len(block) > len(b.data) {
		return fmt.Errorf("%w: %d bytes at offset %d of a %d bytes piece", ErrBlockOutOfRange, len(block), begin, len(b.data))
	}
	copy(b.data[begin:], block)
	if len(block) > 0 {
		b.written.AddRange(uint64(begin), uint64(begin+len(block)))
	}
	return nil
}

// Complete reports whether every byte was written at least once.
func (b *PieceBuffer) Complete() bool {
	return b.Written() == len(b.data)
}

func (b *PieceBuffer) Written() int {
	return int(b.written.GetCardinality())
}

func (b *PieceBuffer) Len() int {
	return len(b.data)
}

func (b *PieceBuffer) Bytes() []byte {
	return b.data
}
