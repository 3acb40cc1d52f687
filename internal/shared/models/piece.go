package models

// BlockRequest addresses a slice of a piece.
type BlockRequest struct {
	Index  int
	Begin  int
	Length int
}

type Block struct {
	Index int
	Begin int
	Data  []byte
}
