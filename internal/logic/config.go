package logic

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/wire"
)

// DefaultBlockSize is the block length requested from peers, 16 KiB.
const DefaultBlockSize = 16 * 1024

const peerIDPrefix = "-BP0001-"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	PeerID    models.PeerID
	BlockSize int
	// BatchRequests writes every block request of a piece before reading the
	// answers. Otherwise a single request is outstanding at a time.
	BatchRequests bool
	// WaitBitfield expects a bitfield right after the handshake.
	WaitBitfield bool
	// MaxBlockRetries bounds how often a block is requested again after the
	// peer answered it with another piece index.
	MaxBlockRetries int
	// MaxPieceAttempts is how many peers a piece is tried against before the
	// download fails. 1 stops at the first failure.
	MaxPieceAttempts int
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	// Dial replaces the default dialer, mostly for tests.
	Dial p2p.DialFunc
}

func DefaultConfig() Config {
	return Config{
		PeerID:           NewPeerID(),
		BlockSize:        DefaultBlockSize,
		WaitBitfield:     true,
		MaxBlockRetries:  3,
		MaxPieceAttempts: 1,
	}
}

func (c Config) Validate() error {
	if c.BlockSize <= 0 || c.BlockSize > wire.MaxMessageLength-9 {
		return fmt.Errorf("%w: block size %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.MaxPieceAttempts < 1 {
		return fmt.Errorf("%w: piece attempts %d", ErrInvalidConfig, c.MaxPieceAttempts)
	}
	if c.MaxBlockRetries < 0 {
		return fmt.Errorf("%w: block retries %d", ErrInvalidConfig, c.MaxBlockRetries)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// NewPeerID generates an Azureus-style peer id with a random suffix.
func NewPeerID() models.PeerID {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	var peerID models.PeerID
	n := copy(peerID[:], peerIDPrefix)
	for i := n; i < len(peerID); i++ {
		peerID[i] = charset[r.Intn(len(charset))]
	}

	return peerID
}

// ParsePeerID accepts exactly 20 bytes.
func ParsePeerID(s string) (models.PeerID, error) {
	var peerID models.PeerID
	if len(s) != len(peerID) {
		return peerID, fmt.Errorf("%w: peer id must be %d bytes, got %d", ErrInvalidConfig, len(peerID), len(s))
	}
	copy(peerID[:], s)
	return peerID, nil
}
