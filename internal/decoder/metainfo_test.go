package decoder

import (
	"crypto/sha1"
	"io"
	"strings"
	"testing"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/stretchr/testify/assert"
)

func TestMetainfoDecoder(t *testing.T) {
	decoder := NewDecoder()

	multiFileInfo := "d" +
		"4:name14:Torrent_Folder" +
		"12:piece lengthi32768e" +
		"6:pieces60:0123456789abcdef01230000000000000000000000000000000000000000" +
		"5:filesl" +
		"d6:lengthi1000e4:pathl10:subfolder19:file1.txtee" +
		"d6:lengthi2000e4:pathl10:subfolder29:file2.txtee" +
		"e" +
		"e"
	singleFileInfo := "d" +
		"6:lengthi90000e" +
		"4:name14:Torrent_Folder" +
		"12:piece lengthi32768e" +
		"6:pieces60:0123456789abcdef01230000000000000000000000000000000000000000" +
		"e"
	header := "d" +
		"8:announce26:http://tracker.example.com" +
		"13:announce-list" +
		"ll26:http://tracker.example.com25:http://backup-tracker.comee" +
		"10:created by15:MyTorrentClient" +
		"4:info"

	var tests = []struct {
		name          string
		assert        func(t *testing.T, actual models.Metafile, err error)
		givenMetafile func() io.Reader
	}{
		{
			name: "validate multifile torrent",
			assert: func(t *testing.T, actual models.Metafile, err error) {
				assert.Nil(t, err)
				assert.Equal(t, "http://tracker.example.com", actual.Announce)
				assert.Equal(t, [][]string{{"http://tracker.example.com", "http://backup-tracker.com"}}, actual.AnnounceList)
				assert.Equal(t, "Torrent_Folder", actual.Info.Name)
				assert.Equal(t, 32768, actual.Info.PieceLength)
				assert.Equal(t, 3000, actual.Info.Length)
				assert.Equal(t, []models.File{{Path: []string{"subfolder1", "file1.txt"}, Length: 1000}, {Path: []string{"subfolder2", "file2.txt"}, Length: 2000}}, actual.Info.Files)
				assert.Equal(t, models.Hash(sha1.Sum([]byte(multiFileInfo))), actual.InfoHash)
				assert.Len(t, actual.Info.PiecesHashes, 3)
				assert.Equal(t, "0123456789abcdef0123", string(actual.Info.PiecesHashes[0][:]))
				assert.Equal(t, "00000000000000000000", string(actual.Info.PiecesHashes[1][:]))
				assert.Equal(t, "00000000000000000000", string(actual.Info.PiecesHashes[2][:]))
			},
			givenMetafile: func() io.Reader {
				return strings.NewReader(header + multiFileInfo + "e")
			},
		},
		{
			name: "validate single torrent",
			assert: func(t *testing.T, actual models.Metafile, err error) {
				assert.Nil(t, err)
				assert.Equal(t, "http://tracker.example.com", actual.Announce)
				assert.Equal(t, "Torrent_Folder", actual.Info.Name)
				assert.Equal(t, 32768, actual.Info.PieceLength)
				assert.Equal(t, 90000, actual.Info.Length)
				assert.Equal(t, []models.File{{Path: []string{"Torrent_Folder"}, Length: 90000}}, actual.Info.Files)
				assert.Equal(t, models.Hash(sha1.Sum([]byte(singleFileInfo))), actual.InfoHash)
				assert.Equal(t, "0123456789abcdef0123", string(actual.Info.PiecesHashes[0][:]))
				assert.Nil(t, actual.Info.Validate())
			},
			givenMetafile: func() io.Reader {
				return strings.NewReader(header + singleFileInfo + "e")
			},
		},
		{
			name: "pieces not a multiple of 20 bytes",
			assert: func(t *testing.T, actual models.Metafile, err error) {
				assert.ErrorIs(t, err, models.ErrInvalidInfo)
			},
			givenMetafile: func() io.Reader {
				return strings.NewReader(header + "d6:lengthi10e4:name1:a12:piece lengthi16e6:pieces3:abce" + "e")
			},
		},
		{
			name: "missing info dictionary",
			assert: func(t *testing.T, actual models.Metafile, err error) {
				assert.ErrorIs(t, err, models.ErrInvalidInfo)
			},
			givenMetafile: func() io.Reader {
				return strings.NewReader("d8:announce3:urle")
			},
		},
		{
			name: "not bencode",
			assert: func(t *testing.T, actual models.Metafile, err error) {
				assert.Error(t, err)
			},
			givenMetafile: func() io.Reader {
				return strings.NewReader("not a torrent")
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			actual, err := decoder.Decode(tt.givenMetafile())
			tt.assert(t, actual, err)
		})
	}
}

func TestDecodeValue(t *testing.T) {
	var tests = []struct {
		name   string
		given  string
		assert func(t *testing.T, actual interface{}, err error)
	}{
		{
			name:  "string",
			given: "5:hello",
			assert: func(t *testing.T, actual interface{}, err error) {
				assert.Nil(t, err)
				assert.Equal(t, "hello", actual)
			},
		},
		{
			name:  "integer",
			given: "i-52e",
			assert: func(t *testing.T, actual interface{}, err error) {
				assert.Nil(t, err)
				assert.Equal(t, int64(-52), actual)
			},
		},
		{
			name:  "list",
			given: "l5:helloi52ee",
			assert: func(t *testing.T, actual interface{}, err error) {
				assert.Nil(t, err)
				assert.Equal(t, []interface{}{"hello", int64(52)}, actual)
			},
		},
		{
			name:  "dictionary",
			given: "d3:foo3:bar5:helloi52ee",
			assert: func(t *testing.T, actual interface{}, err error) {
				assert.Nil(t, err)
				assert.Equal(t, map[string]interface{}{"foo": "bar", "hello": int64(52)}, actual)
			},
		},
		{
			name:  "truncated",
			given: "5:hel",
			assert: func(t *testing.T, actual interface{}, err error) {
				assert.Error(t, err)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			actual, err := DecodeValue(tt.given)
			tt.assert(t, actual, err)
		})
	}
}
