package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPieceBufferOrderIndependent(t *testing.T) {
	blocks := map[int]string{0: "abcd", 4: "efgh", 8: "ij"}
	orders := [][]int{
		{0, 4, 8},
		{8, 4, 0},
		{4, 0, 8},
		{4, 8, 0, 4},
	}
	for _, order := range orders {
		buf := NewPieceBuffer(10)
		for _, begin := range order {
			require.Nil(t, buf.Put(begin, []byte(blocks[begin])))
		}
		assert.True(t, buf.Complete())
		assert.Equal(t, "abcdefghij", string(buf.Bytes()))
	}
}

func TestPieceBufferPut(t *testing.T) {
	var tests = []struct {
		name   string
		begin  int
		block  []byte
		assert func(t *testing.T, buf *PieceBuffer, err error)
	}{
		{
			name:  "partial write",
			begin: 2,
			block: []byte("cd"),
			assert: func(t *testing.T, buf *PieceBuffer, err error) {
				assert.Nil(t, err)
				assert.False(t, buf.Complete())
				assert.Equal(t, 2, buf.Written())
			},
		},
		{
			name:  "past the end",
			begin: 8,
			block: []byte("ijk"),
			assert: func(t *testing.T, buf *PieceBuffer, err error) {
				assert.ErrorIs(t, err, ErrBlockOutOfRange)
				assert.Zero(t, buf.Written())
			},
		},
		{
			name:  "negative offset",
			begin: -1,
			block: []byte("a"),
			assert: func(t *testing.T, buf *PieceBuffer, err error) {
				assert.ErrorIs(t, err, ErrBlockOutOfRange)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			buf := NewPieceBuffer(10)
			err := buf.Put(tt.begin, tt.block)
			assert.Equal(t, 10, buf.Len())
			tt.assert(t, buf, err)
		})
	}
}
