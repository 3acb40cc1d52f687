package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/shared/models"
)

// MaxMessageLength bounds the length prefix accepted from a peer.
const MaxMessageLength = 1 << 24

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMessageTooLarge  = errors.New("message too large")
)

// Message stores ID and payload of a message. A nil *Message is a
// keep-alive.
type Message struct {
	ID      models.MessageID
	Payload []byte
}

// Bytes serializes a message into a buffer of the form
// <length prefix><message ID><payload>
func (m *Message) Bytes() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1) // +1 for id
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

func (m *Message) String() string {
	if m == nil {
		return "keep-alive"
	}
	return fmt.Sprintf("%s [%d]", m.ID, len(m.Payload))
}

// Read consumes exactly one message from r. Returns nil on keep-alive.
func Read(r io.Reader) (*Message, error) {
	lengthBuf, err := decoder.ReadBytes(r, 4)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)

	// keep-alive message
	if length == 0 {
		return nil, nil
	}
	if length > MaxMessageLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	messageBuf, err := decoder.ReadBytes(r, int(length))
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Message{
		ID:      models.MessageID(messageBuf[0]),
		Payload: messageBuf[1:],
	}, nil
}

func NewRequest(index, begin, length int) *Message {
	return &Message{ID: models.MessageIDRequest, Payload: blockPayload(index, begin, length)}
}

func NewCancel(index, begin, length int) *Message {
	return &Message{ID: models.MessageIDCancel, Payload: blockPayload(index, begin, length)}
}

func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: models.MessageIDHave, Payload: payload}
}

func NewBitfield(bitfield []byte) *Message {
	return &Message{ID: models.MessageIDBitfield, Payload: bitfield}
}

func NewPiece(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: models.MessageIDPiece, Payload: payload}
}

func blockPayload(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}

func ParseRequest(m *Message) (models.BlockRequest, error) {
	return parseBlockRequest(m, models.MessageIDRequest)
}

func ParseCancel(m *Message) (models.BlockRequest, error) {
	return parseBlockRequest(m, models.MessageIDCancel)
}

func parseBlockRequest(m *Message, id models.MessageID) (models.BlockRequest, error) {
	if err := expectID(m, id); err != nil {
		return models.BlockRequest{}, err
	}
	if len(m.Payload) != 12 {
		return models.BlockRequest{}, fmt.Errorf("%w: %s payload of %d bytes", ErrMalformedMessage, id, len(m.Payload))
	}
	return models.BlockRequest{
		Index:  int(binary.BigEndian.Uint32(m.Payload[0:4])),
		Begin:  int(binary.BigEndian.Uint32(m.Payload[4:8])),
		Length: int(binary.BigEndian.Uint32(m.Payload[8:12])),
	}, nil
}

// ParseHave returns the index announced by a have message.
func ParseHave(m *Message) (int, error) {
	if err := expectID(m, models.MessageIDHave); err != nil {
		return 0, err
	}
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("%w: have payload of %d bytes", ErrMalformedMessage, len(m.Payload))
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// ParsePiece splits a piece payload into index, begin and block data. The
// block aliases the message payload.
func ParsePiece(m *Message) (models.Block, error) {
	if err := expectID(m, models.MessageIDPiece); err != nil {
		return models.Block{}, err
	}
	return ParsePiecePayload(m.Payload)
}

func ParsePiecePayload(payload []byte) (models.Block, error) {
	if len(payload) < 8 {
		return models.Block{}, fmt.Errorf("%w: piece payload of %d bytes", ErrMalformedMessage, len(payload))
	}
	return models.Block{
		Index: int(binary.BigEndian.Uint32(payload[0:4])),
		Begin: int(binary.BigEndian.Uint32(payload[4:8])),
		Data:  payload[8:],
	}, nil
}

func expectID(m *Message, id models.MessageID) error {
	if m == nil {
		return fmt.Errorf("%w: expected %s, got keep-alive", ErrMalformedMessage, id)
	}
	if m.ID != id {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, id, m.ID)
	}
	return nil
}
