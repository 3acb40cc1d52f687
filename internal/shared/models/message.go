package models

import "strconv"

type MessageID uint8

const (
	MessageIDChoke MessageID = iota
	MessageIDUnchoke
	MessageIDInterested
	MessageIDNotInterested
	MessageIDHave
	MessageIDBitfield
	MessageIDRequest
	MessageIDPiece
	MessageIDCancel
)

var messageNames = map[MessageID]string{
	MessageIDChoke:         "choke",
	MessageIDUnchoke:       "unchoke",
	MessageIDInterested:    "interested",
	MessageIDNotInterested: "not-interested",
	MessageIDHave:          "have",
	MessageIDBitfield:      "bitfield",
	MessageIDRequest:       "request",
	MessageIDPiece:         "piece",
	MessageIDCancel:        "cancel",
}

func (id MessageID) String() string {
	if name, ok := messageNames[id]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(id)) + ")"
}
