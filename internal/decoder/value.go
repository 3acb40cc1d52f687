package decoder

import (
	"strings"

	"github.com/jackpal/bencode-go"
)

// DecodeValue decodes a single bencoded value into strings, int64s, slices
// and maps, ready to be printed as JSON.
func DecodeValue(encoded string) (interface{}, error) {
	return bencode.Decode(strings.NewReader(encoded))
}
