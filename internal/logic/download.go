package logic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/wire"
	"github.com/schollz/progressbar/v3"
)

var (
	ErrNoPeersAvailable = errors.New("no peers available")
	ErrMissingPiece     = errors.New("missing piece")
)

// Sink receives verified pieces.
type Sink interface {
	WritePiece(index int, offset int64, data []byte) error
}

type PeerDiscoverer interface {
	GetPeers(models.Metafile) ([]models.Peer, error)
}

// Downloader fetches pieces one at a time from a single peer. It is not safe
// for concurrent use.
type Downloader interface {
	Download(meta models.Metafile, sink Sink) error
	FetchPiece(meta models.Metafile, index int) ([]byte, error)
	Handshake(meta models.Metafile, addr models.Addr) (wire.Handshake, error)
	WithProgress(w io.Writer) Downloader
}

type downloader struct {
	cfg      Config
	peers    PeerDiscoverer
	log      *slog.Logger
	progress io.Writer
	current  *peerSession
}

type peerSession struct {
	peer   models.Peer
	client p2p.P2PClient
}

func NewDownloader(peers PeerDiscoverer, cfg Config, logger *slog.Logger) Downloader {
	if logger == nil {
		logger = discardLogger()
	}
	return &downloader{cfg: cfg, peers: peers, log: logger, progress: io.Discard}
}

func (d *downloader) WithProgress(w io.Writer) Downloader {
	d.progress = w
	return d
}

// Download fetches every piece in order and hands each verified piece to
// sink. The first piece that fails every attempt stops the download.
func (d *downloader) Download(meta models.Metafile, sink Sink) error {
	peers, err := d.prepare(meta)
	if err != nil {
		return err
	}
	defer d.closeSession()

	bar := progressbar.NewOptions64(int64(meta.Info.Length),
		progressbar.OptionSetWriter(d.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetDescription("downloading"),
	)

	pieceCount := meta.Info.PieceCount()
	d.log.Info("starting download",
		slog.String("name", meta.Info.Name),
		slog.Int("pieces", pieceCount),
		slog.Int("peers", len(peers)))

	for index := 0; index < pieceCount; index++ {
		data, err := d.fetch(meta, peers, index)
		if err != nil {
			return err
		}

		if err := sink.WritePiece(index, meta.Info.PieceOffset(index), data); err != nil {
			return fmt.Errorf("write piece %d: %w", index, err)
		}
		d.log.Info("piece saved", slog.Int("piece", index), slog.Int("amount_pieces", pieceCount))
		_ = bar.Add(len(data))
	}
	_ = bar.Finish()

	return nil
}

// FetchPiece downloads and verifies a single piece.
func (d *downloader) FetchPiece(meta models.Metafile, index int) ([]byte, error) {
	if index < 0 || index >= meta.Info.PieceCount() {
		return nil, fmt.Errorf("%w: %d of %d pieces", ErrInvalidPieceIndex, index, meta.Info.PieceCount())
	}
	peers, err := d.prepare(meta)
	if err != nil {
		return nil, err
	}
	defer d.closeSession()

	return d.fetch(meta, peers, index)
}

// Handshake connects to addr and returns the peer's handshake.
func (d *downloader) Handshake(meta models.Metafile, addr models.Addr) (wire.Handshake, error) {
	client := d.newClient()
	if err := client.Connect(addr); err != nil {
		return wire.Handshake{}, err
	}
	defer client.Disconnect()

	return client.Handshake(meta.InfoHash)
}

func (d *downloader) prepare(meta models.Metafile) ([]models.Peer, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := meta.Info.Validate(); err != nil {
		return nil, err
	}

	peers, err := d.peers.GetPeers(meta)
	if err != nil {
		return nil, fmt.Errorf("retrieve peers: %w", err)
	}
	if len(peers) == 0 {
		return nil, ErrNoPeersAvailable
	}
	return peers, nil
}

// fetch tries the piece against consecutive peers, starting with the one
// the piece index maps to.
func (d *downloader) fetch(meta models.Metafile, peers []models.Peer, index int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxPieceAttempts; attempt++ {
		peer := peers[(index+attempt)%len(peers)]

		data, err := d.fetchFrom(meta, peer, index)
		if err == nil {
			return data, nil
		}

		lastErr = err
		d.log.Warn("failed to download piece",
			slog.Int("piece", index),
			slog.String("peer", peer.Addr.String()),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		// the stream state is unknown after a failure
		d.closeSession()
	}

	return nil, fmt.Errorf("piece %d: %w", index, lastErr)
}

func (d *downloader) fetchFrom(meta models.Metafile, peer models.Peer, index int) ([]byte, error) {
	s, err := d.session(meta, peer)
	if err != nil {
		return nil, err
	}
	if !s.peer.HasPiece(index) {
		return nil, fmt.Errorf("%w: %d from %s", ErrMissingPiece, index, peer.Addr)
	}

	return NewFetcher(s.client, d.cfg, d.log).FetchPiece(meta.Info, index)
}

// session returns the open session to peer, replacing the session to any
// other peer.
func (d *downloader) session(meta models.Metafile, peer models.Peer) (*peerSession, error) {
	if d.current != nil && d.current.peer.Addr == peer.Addr {
		return d.current, nil
	}
	d.closeSession()

	client := d.newClient()
	if err := client.Connect(peer.Addr); err != nil {
		return nil, err
	}

	s := &peerSession{peer: peer, client: client}
	if err := d.exchange(meta, s); err != nil {
		client.Disconnect()
		return nil, err
	}

	d.current = s
	return s, nil
}

// exchange runs everything between the connect and the first request:
// handshake, optional bitfield, interested, unchoke.
func (d *downloader) exchange(meta models.Metafile, s *peerSession) error {
	h, err := s.client.Handshake(meta.InfoHash)
	if err != nil {
		return err
	}
	s.peer.PeerID = h.PeerID
	d.log.Info("completed handshake", slog.String("peer", s.peer.Addr.String()), slog.String("peer_id", fmt.Sprintf("%x", h.PeerID)))

	if d.cfg.WaitBitfield {
		bitfield, err := s.client.Expect(models.MessageIDBitfield)
		if err != nil {
			return err
		}
		s.peer.SetBitfield(bitfield, meta.Info.PieceCount())
	}

	if err := s.client.WriteMessage(&wire.Message{ID: models.MessageIDInterested}); err != nil {
		return err
	}
	return d.awaitUnchoke(s)
}

// awaitUnchoke records have messages sent before the unchoke. Anything else
// is a protocol violation.
func (d *downloader) awaitUnchoke(s *peerSession) error {
	for {
		msg, err := s.client.ReadMessage()
		if err != nil {
			return err
		}
		switch {
		case msg == nil:
			continue
		case msg.ID == models.MessageIDUnchoke:
			return nil
		case msg.ID == models.MessageIDHave:
			index, err := wire.ParseHave(msg)
			if err != nil {
				return err
			}
			s.peer.SetPiece(index)
		default:
			return &p2p.UnexpectedMessageError{Expected: models.MessageIDUnchoke, Actual: msg.ID}
		}
	}
}

func (d *downloader) newClient() p2p.P2PClient {
	return p2p.NewClient(d.cfg.PeerID, p2p.Options{
		DialTimeout:  d.cfg.DialTimeout,
		ReadTimeout:  d.cfg.ReadTimeout,
		WriteTimeout: d.cfg.WriteTimeout,
		Dial:         d.cfg.Dial,
		Logger:       d.log,
	})
}

func (d *downloader) closeSession() {
	if d.current == nil {
		return
	}
	if err := d.current.client.Disconnect(); err != nil {
		d.log.Debug("failed to close session", slog.Any("error", err))
	}
	d.current = nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
