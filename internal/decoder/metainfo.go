package decoder

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/zeebo/bencode"
)

type MetafileDecoder interface {
	Decode(io.Reader) (models.Metafile, error)
}

type decoder struct{}

func NewDecoder() MetafileDecoder {
	return decoder{}
}

// serialization struct the represents the structure of a .torrent file
// it is not immediately usable, so it can be converted to a Metafile struct
type bencodeTorrent struct {
	// URL of tracker server to get peers from
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	// Info is parsed as a RawMessage to ensure that the final info_hash is
	// correct even in the case of the info dictionary being an unexpected shape
	Info bencode.RawMessage `bencode:"info"`
}

func (decoder) Decode(torrent io.Reader) (models.Metafile, error) {
	var response models.Metafile
	var bt bencodeTorrent
	err := bencode.NewDecoder(torrent).Decode(&bt)
	if err != nil {
		return response, fmt.Errorf("decode torrent: %w", err)
	}
	if len(bt.Info) == 0 {
		return response, fmt.Errorf("%w: missing info dictionary", models.ErrInvalidInfo)
	}

	response.Announce = bt.Announce
	response.AnnounceList = bt.AnnounceList
	response.InfoHash = calculateInfoHash(bt.Info)
	err = bencode.NewDecoder(bytes.NewReader(bt.Info)).Decode(&response.Info)
	if err != nil {
		return response, fmt.Errorf("decode torrent info: %w", err)
	}

	response.Info.PiecesHashes, err = calculatePiecesHashes(response.Info.Pieces)
	if err != nil {
		return response, err
	}

	if response.Info.Length > 0 {
		response.Info.Files = []models.File{{Length: response.Info.Length, Path: []string{response.Info.Name}}}
	} else {
		response.Info.Length = response.Info.TotalLength()
	}

	return response, nil
}

func calculateInfoHash(info []byte) models.Hash {
	return sha1.Sum(info)
}

func calculatePiecesHashes(pieces string) ([]models.Hash, error) {
	if len(pieces)%sha1.Size != 0 {
		return nil, fmt.Errorf("%w: pieces field of length %d", models.ErrInvalidInfo, len(pieces))
	}

	piecesHashes := make([]models.Hash, len(pieces)/sha1.Size)
	for i := range piecesHashes {
		copy(piecesHashes[i][:], pieces[i*sha1.Size:])
	}

	return piecesHashes, nil
}
