package decoder

import (
	"errors"
	"io"
)

// ReadBytes reads exactly n bytes from r, looping over short reads. It
// returns io.EOF when nothing was read and io.ErrUnexpectedEOF when the
// stream ended part way.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	result := make([]byte, n)
	readed := 0
	for readed < n {
		m, err := r.Read(result[readed:])
		readed += m
		if err != nil {
			if readed >= n {
				break
			}
			if errors.Is(err, io.EOF) && readed > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return result, nil
}
