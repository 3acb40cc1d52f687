// Package wire encodes and decodes the peer wire protocol messages.
// https://wiki.theory.org/BitTorrentSpecification#Peer_wire_protocol_.28TCP.29
package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

const (
	Protocol        = "BitTorrent protocol"
	HandshakeLength = 1 + len(Protocol) + 8 + 20 + 20
)

var ErrMalformedHandshake = errors.New("malformed handshake")

// Handshake is the first message exchanged on a connection.
type Handshake struct {
	Reserved [8]byte
	InfoHash models.Hash
	PeerID   models.PeerID
}

// Bytes encodes the 68 byte handshake.
func (h Handshake) Bytes() []byte {
	buf := make([]byte, 0, HandshakeLength)
	buf = append(buf, byte(len(Protocol))) // length of the protocol
	buf = append(buf, Protocol...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// DecodeHandshake parses the first 68 bytes of buf.
func DecodeHandshake(buf []byte) (Handshake, error) {
	var h Handshake
	if len(buf) < HandshakeLength {
		return h, fmt.Errorf("%w: got %d bytes", ErrMalformedHandshake, len(buf))
	}
	if buf[0] != byte(len(Protocol)) {
		return h, fmt.Errorf("%w: protocol length %d", ErrMalformedHandshake, buf[0])
	}
	if !bytes.Equal(buf[1:20], []byte(Protocol)) {
		return h, fmt.Errorf("%w: protocol %q", ErrMalformedHandshake, buf[1:20])
	}

	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}
