package models

import (
	"github.com/RoaringBitmap/roaring"
)

type PeerID [20]byte

type Peer struct {
	Addr   Addr
	PeerID PeerID
	// Pieces is nil until the peer advertised a bitfield.
	Pieces *roaring.Bitmap
}

// SetBitfield records the pieces advertised by a bitfield message. Bits past
// pieceCount are spare padding and ignored.
func (p *Peer) SetBitfield(bitfield []byte, pieceCount int) {
	p.Pieces = roaring.New()
	for byteIndex, b := range bitfield {
		for i := 0; i < 8; i++ {
			bitIndex := byteIndex*8 + i
			if bitIndex >= pieceCount {
				return
			}
			if b>>uint(7-i)&1 == 1 {
				p.Pieces.Add(uint32(bitIndex))
			}
		}
	}
}

func (p *Peer) SetPiece(index int) {
	if p.Pieces == nil {
		p.Pieces = roaring.New()
	}
	p.Pieces.Add(uint32(index))
}

// HasPiece reports whether the peer can serve index. Peers that never sent a
// bitfield are assumed to have everything.
func (p *Peer) HasPiece(index int) bool {
	if p.Pieces == nil {
		return true
	}
	return p.Pieces.Contains(uint32(index))
}
