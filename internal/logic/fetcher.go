package logic

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/wire"
)

var (
	ErrPieceHashMismatch  = errors.New("piece hash mismatch")
	ErrIncompletePiece    = errors.New("incomplete piece")
	ErrInvalidPieceIndex  = errors.New("invalid piece index")
	ErrBlockIndexMismatch = errors.New("block index mismatch")
)

type PieceHashMismatchError struct {
	Index    int
	Expected models.Hash
	Actual   models.Hash
}

func (e *PieceHashMismatchError) Error() string {
	return fmt.Sprintf("piece %d hash mismatch: expected %s, got %s", e.Index, e.Expected, e.Actual)
}

func (e *PieceHashMismatchError) Is(target error) bool {
	return target == ErrPieceHashMismatch
}

// BlockIndexMismatchError is returned once a block kept being answered with
// another piece index after every retry.
type BlockIndexMismatchError struct {
	Expected int
	Actual   int
	Begin    int
}

func (e *BlockIndexMismatchError) Error() string {
	return fmt.Sprintf("block at offset %d: expected piece %d, got %d", e.Begin, e.Expected, e.Actual)
}

func (e *BlockIndexMismatchError) Is(target error) bool {
	return target == ErrBlockIndexMismatch
}

// PieceSource fetches a verified piece.
type PieceSource interface {
	FetchPiece(info models.Info, index int) ([]byte, error)
}

// Session is the part of a peer session used to fetch pieces. The session
// must be past the handshake and unchoked.
type Session interface {
	WriteMessage(msg *wire.Message) error
	Expect(id models.MessageID) ([]byte, error)
}

var _ PieceSource = (*Fetcher)(nil)

type Fetcher struct {
	session Session
	cfg     Config
	log     *slog.Logger
}

func NewFetcher(session Session, cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = discardLogger()
	}
	return &Fetcher{session: session, cfg: cfg, log: logger}
}

// FetchPiece requests every block of the piece, places the answers by offset
// and checks the SHA-1 of the result. It never retries a failed piece.
func (f *Fetcher) FetchPiece(info models.Info, index int) ([]byte, error) {
	if index < 0 || index >= info.PieceCount() {
		return nil, fmt.Errorf("%w: %d of %d pieces", ErrInvalidPieceIndex, index, info.PieceCount())
	}

	size := info.PieceSize(index)
	buf := NewPieceBuffer(size)
	pending := SplitBlocks(index, size, f.cfg.BlockSize)
	retries := make(map[int]int)

	for len(pending) > 0 {
		n := 1
		if f.cfg.BatchRequests {
			n = len(pending)
		}
		batch := pending[:n]
		pending = pending[n:]

		for _, req := range batch {
			if err := f.session.WriteMessage(wire.NewRequest(req.Index, req.Begin, req.Length)); err != nil {
				return nil, err
			}
		}

		// answers are expected in the order the requests were written
		var again []models.BlockRequest
		for _, req := range batch {
			payload, err := f.session.Expect(models.MessageIDPiece)
			if err != nil {
				return nil, err
			}
			block, err := wire.ParsePiecePayload(payload)
			if err != nil {
				return nil, err
			}

			if block.Index != req.Index {
				retries[req.Begin]++
				f.log.Warn("peer answered with another piece",
					slog.Int("piece", req.Index),
					slog.Int("received_piece", block.Index),
					slog.Int("begin", req.Begin),
					slog.Int("retry", retries[req.Begin]))
				if retries[req.Begin] > f.cfg.MaxBlockRetries {
					return nil, &BlockIndexMismatchError{Expected: req.Index, Actual: block.Index, Begin: req.Begin}
				}
				again = append(again, req)
				continue
			}

			if err := buf.Put(block.Begin, block.Data); err != nil {
				return nil, err
			}
		}
		pending = append(again, pending...)
	}

	if !buf.Complete() {
		return nil, fmt.Errorf("%w: piece %d has %d of %d bytes", ErrIncompletePiece, index, buf.Written(), size)
	}

	actual := models.Hash(sha1.Sum(buf.Bytes()))
	expected := info.PiecesHashes[index]
	if actual != expected {
		return nil, &PieceHashMismatchError{Index: index, Expected: expected, Actual: actual}
	}

	f.log.Debug("piece verified", slog.Int("piece", index), slog.Int("length", size))
	return buf.Bytes(), nil
}
