package logic

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/p2p/p2ptest"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink map[int]int64

func (s memorySink) WritePiece(index int, offset int64, data []byte) error {
	s[index] = offset
	return nil
}

type bufferSink []byte

func (s bufferSink) WritePiece(index int, offset int64, data []byte) error {
	copy(s[offset:], data)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PeerID = models.PeerID([]byte("00112233445566778899"))
	cfg.DialTimeout = time.Second
	cfg.ReadTimeout = 5 * time.Second
	return cfg
}

func startPeer(t *testing.T, data []byte, knobs func(p *p2ptest.Peer)) (*p2ptest.Peer, models.Addr, models.Metafile) {
	t.Helper()
	peer, info := p2ptest.NewPeer(testInfoHash, data, 32768)
	knobs(peer)
	addr, err := peer.Start()
	require.Nil(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer, addr, models.Metafile{InfoHash: testInfoHash, Info: info}
}

func TestDownload(t *testing.T) {
	data := testData()

	var tests = []struct {
		name   string
		knobs  func(p *p2ptest.Peer)
		config func(cfg *Config)
		assert func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error)
	}{
		{
			name:   "every piece from one session",
			knobs:  func(p *p2ptest.Peer) {},
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				require.Nil(t, err)
				assert.Equal(t, data, []byte(sink))
				assert.Equal(t, 1, peer.Connections())
				assert.Len(t, peer.Requests(), 3)
			},
		},
		{
			name:  "batched requests",
			knobs: func(p *p2ptest.Peer) { p.KeepAlive = true },
			config: func(cfg *Config) {
				cfg.BatchRequests = true
			},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				require.Nil(t, err)
				assert.Equal(t, data, []byte(sink))
			},
		},
		{
			name:  "peer without bitfield",
			knobs: func(p *p2ptest.Peer) { p.NoBitfield = true },
			config: func(cfg *Config) {
				cfg.WaitBitfield = false
			},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				require.Nil(t, err)
				assert.Equal(t, data, []byte(sink))
			},
		},
		{
			name:   "piece answered with another index is requested again",
			knobs:  func(p *p2ptest.Peer) { p.WrongIndex = 1 },
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				require.Nil(t, err)
				assert.Equal(t, data, []byte(sink))
				requests := peer.Requests()
				require.Len(t, requests, 4)
				assert.Equal(t, requests[0], requests[1])
			},
		},
		{
			name:   "corrupt piece stops the download",
			knobs:  func(p *p2ptest.Peer) { p.Corrupt = map[int]bool{1: true} },
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				assert.ErrorIs(t, err, ErrPieceHashMismatch)
				assert.Equal(t, data[:32768], []byte(sink[:32768]))
			},
		},
		{
			name:   "peer missing a piece",
			knobs:  func(p *p2ptest.Peer) { p.Missing = map[int]bool{1: true} },
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				assert.ErrorIs(t, err, ErrMissingPiece)
				assert.Len(t, peer.Requests(), 2)
			},
		},
		{
			name: "piece announced with have after the bitfield",
			knobs: func(p *p2ptest.Peer) {
				p.Missing = map[int]bool{1: true}
				p.Have = []int{1}
			},
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				require.Nil(t, err)
				assert.Equal(t, data, []byte(sink))
			},
		},
		{
			name:   "choked",
			knobs:  func(p *p2ptest.Peer) { p.Choke = true },
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				assert.ErrorIs(t, err, p2p.ErrUnexpectedMessage)
				assert.Empty(t, peer.Requests())
			},
		},
		{
			name: "handshake for another torrent",
			knobs: func(p *p2ptest.Peer) {
				other := models.Hash([]byte("another torrent hash"))
				p.ReplyInfoHash = &other
			},
			config: func(cfg *Config) {},
			assert: func(t *testing.T, peer *p2ptest.Peer, sink bufferSink, err error) {
				assert.ErrorIs(t, err, p2p.ErrHandshakeFailed)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			peer, addr, meta := startPeer(t, data, tt.knobs)
			cfg := testConfig()
			tt.config(&cfg)

			sink := make(bufferSink, len(data))
			err := NewDownloader(StaticPeers{addr}, cfg, nil).Download(meta, sink)
			tt.assert(t, peer, sink, err)
		})
	}
}

func TestDownloadKeepsOnlyVerifiedPieces(t *testing.T) {
	data := testData()
	_, addr, meta := startPeer(t, data, func(p *p2ptest.Peer) { p.Corrupt = map[int]bool{1: true} })

	path := filepath.Join(t.TempDir(), "sample.txt")
	store, err := storage.Create(path, int64(len(data)))
	require.Nil(t, err)

	err = NewDownloader(StaticPeers{addr}, testConfig(), nil).Download(meta, store)
	assert.ErrorIs(t, err, ErrPieceHashMismatch)
	require.Nil(t, store.Close())

	actual, err := os.ReadFile(path)
	require.Nil(t, err)
	assert.Equal(t, data[:32768], actual)
}

func TestDownloadRetriesNextPeer(t *testing.T) {
	data := testData()
	good, goodAddr, meta := startPeer(t, data, func(p *p2ptest.Peer) {})
	bad, badAddr, _ := startPeer(t, data, func(p *p2ptest.Peer) { p.Corrupt = map[int]bool{1: true} })

	cfg := testConfig()
	cfg.MaxPieceAttempts = 2
	sink := make(bufferSink, len(data))
	err := NewDownloader(StaticPeers{goodAddr, badAddr}, cfg, nil).Download(meta, sink)
	require.Nil(t, err)
	assert.Equal(t, data, []byte(sink))

	// piece 1 maps to the corrupt peer first, then back to the good one
	assert.Equal(t, 1, bad.Connections())
	assert.Equal(t, 2, good.Connections())
}

func TestDownloadWithoutPeers(t *testing.T) {
	dials := 0
	cfg := testConfig()
	cfg.Dial = func(network, address string) (net.Conn, error) {
		dials++
		return net.Dial(network, address)
	}

	_, info := p2ptest.NewPeer(testInfoHash, testData(), 32768)
	meta := models.Metafile{InfoHash: testInfoHash, Info: info}
	sink := memorySink{}

	err := NewDownloader(StaticPeers{}, cfg, nil).Download(meta, sink)
	assert.ErrorIs(t, err, ErrNoPeersAvailable)
	assert.Zero(t, dials)
	assert.Empty(t, sink)

	_, err = NewDownloader(StaticPeers{}, cfg, nil).FetchPiece(meta, 0)
	assert.ErrorIs(t, err, ErrNoPeersAvailable)
	assert.Zero(t, dials)
}

func TestDownloaderFetchPiece(t *testing.T) {
	data := testData()
	peer, addr, meta := startPeer(t, data, func(p *p2ptest.Peer) {})

	d := NewDownloader(StaticPeers{addr}, testConfig(), nil)
	actual, err := d.FetchPiece(meta, 1)
	require.Nil(t, err)
	assert.Equal(t, data[32768:], actual)
	assert.Equal(t, []models.BlockRequest{{Index: 1, Begin: 0, Length: 7232}}, peer.Requests())

	_, err = d.FetchPiece(meta, 2)
	assert.ErrorIs(t, err, ErrInvalidPieceIndex)
}

func TestDownloaderHandshake(t *testing.T) {
	peer, addr, meta := startPeer(t, testData(), func(p *p2ptest.Peer) {})

	h, err := NewDownloader(StaticPeers{}, testConfig(), nil).Handshake(meta, addr)
	require.Nil(t, err)
	assert.Equal(t, peer.PeerID, h.PeerID)
	assert.Equal(t, testInfoHash, h.InfoHash)
}

func TestDownloadInvalidInfo(t *testing.T) {
	meta := models.Metafile{InfoHash: testInfoHash, Info: models.Info{Length: 10, PieceLength: 4}}
	err := NewDownloader(StaticPeers{}, testConfig(), nil).Download(meta, memorySink{})
	assert.ErrorIs(t, err, models.ErrInvalidInfo)
}
