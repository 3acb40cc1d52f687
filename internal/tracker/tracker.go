package tracker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

// Port announced to trackers.
const Port = 6881

var (
	ErrEmptyAnnounce       = errors.New("announce url is empty")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrTrackerFailure      = errors.New("tracker failure")
	ErrInvalidPeers        = errors.New("invalid peers")
)

type Tracker interface {
	GetPeers(models.Metafile) ([]models.Peer, error)
	WithHTTPClient(client *http.Client) Tracker
	WithUDPTimeout(timeout time.Duration) Tracker
}

type PeersGetter interface {
	GetPeers(announce string, metafile models.Metafile) ([]models.Peer, error)
}

type tracker struct {
	AnnounceURL string
	PeerID      models.PeerID
	HTTPClient  PeersGetter
	UDPClient   PeersGetter
}

func NewTracker(announceURL string, peerID models.PeerID) Tracker {
	return &tracker{
		AnnounceURL: announceURL,
		PeerID:      peerID,
		HTTPClient:  NewHTTPGetter(&http.Client{Timeout: 60 * time.Second}, peerID),
		UDPClient:   NewUDPGetter(peerID, 15*time.Second),
	}
}

func (t *tracker) WithHTTPClient(client *http.Client) Tracker {
	t.HTTPClient = NewHTTPGetter(client, t.PeerID)
	return t
}

func (t *tracker) WithUDPTimeout(timeout time.Duration) Tracker {
	t.UDPClient = NewUDPGetter(t.PeerID, timeout)
	return t
}

type peersResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

func (t *tracker) GetPeers(metafile models.Metafile) ([]models.Peer, error) {
	if t.AnnounceURL == "" {
		return nil, ErrEmptyAnnounce
	}
	switch {
	case strings.HasPrefix(t.AnnounceURL, "http"):
		return t.HTTPClient.GetPeers(t.AnnounceURL, metafile)
	case strings.HasPrefix(t.AnnounceURL, "udp"):
		return t.UDPClient.GetPeers(t.AnnounceURL, metafile)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, t.AnnounceURL)
	}
}

// decodeCompactPeers reads the 6 bytes per peer form (BEP 23).
func decodeCompactPeers(peerData []byte) ([]models.Peer, error) {
	if len(peerData)%6 != 0 {
		return nil, fmt.Errorf("%w: compact peers of %d bytes", ErrInvalidPeers, len(peerData))
	}

	peers := make([]models.Peer, 0, len(peerData)/6)
	for i := 0; i < len(peerData); i += 6 {
		var addr models.Addr
		if err := addr.ReadFromBytes(peerData[i : i+6]); err != nil {
			return nil, err
		}
		peers = append(peers, models.Peer{Addr: addr})
	}
	return peers, nil
}
