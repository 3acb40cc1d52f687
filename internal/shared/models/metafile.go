package models

import (
	"encoding/hex"
	"errors"
	"fmt"
)

type Metafile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         Info       `bencode:"info"`
	InfoHash     Hash       `bencode:"-"`
}

type Info struct {
	Name         string `bencode:"name"`
	Length       int    `bencode:"length"`
	PieceLength  int    `bencode:"piece length"`
	Pieces       string `bencode:"pieces"`
	PiecesHashes []Hash `bencode:"-"`
	Files        []File `bencode:"files,omitempty"`
}

type File struct {
	Length int      `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Hash is a SHA-1 digest, used both for the info hash and for piece hashes.
type Hash [20]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

var ErrInvalidInfo = errors.New("invalid torrent info")

// Validate checks that the piece hashes cover exactly the torrent length.
func (i Info) Validate() error {
	if i.PieceLength <= 0 {
		return fmt.Errorf("%w: piece length %d", ErrInvalidInfo, i.PieceLength)
	}
	if i.Length < 0 {
		return fmt.Errorf("%w: length %d", ErrInvalidInfo, i.Length)
	}
	expected := (i.Length + i.PieceLength - 1) / i.PieceLength
	if len(i.PiecesHashes) != expected {
		return fmt.Errorf("%w: %d piece hashes for %d pieces", ErrInvalidInfo, len(i.PiecesHashes), expected)
	}
	return nil
}

func (i Info) PieceCount() int {
	return len(i.PiecesHashes)
}

// PieceSize returns the effective length of the piece at index, the last
// piece being shorter when the total length is not a multiple of the piece
// length. Out of range indexes have size 0.
func (i Info) PieceSize(index int) int {
	if index < 0 || index >= i.PieceCount() {
		return 0
	}
	left := i.Length - index*i.PieceLength
	return max(0, min(left, i.PieceLength))
}

// PieceOffset is the absolute position of the piece within the torrent.
func (i Info) PieceOffset(index int) int64 {
	return int64(index) * int64(i.PieceLength)
}

func (i Info) TotalLength() int {
	if i.Length > 0 || len(i.Files) == 0 {
		return i.Length
	}
	total := 0
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}
