package logic

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/tracker"
)

// StaticPeers is a fixed list of peers, e.g. given on the command line.
type StaticPeers []models.Addr

func (s StaticPeers) GetPeers(models.Metafile) ([]models.Peer, error) {
	peers := make([]models.Peer, len(s))
	for i, addr := range s {
		peers[i] = models.Peer{Addr: addr}
	}
	return peers, nil
}

type trackerDiscoverer struct {
	peerID     models.PeerID
	log        *slog.Logger
	newTracker func(announce string, peerID models.PeerID) tracker.Tracker
}

// NewTrackerDiscoverer asks the announce URL and every announce-list entry
// for peers.
func NewTrackerDiscoverer(peerID models.PeerID, logger *slog.Logger) PeerDiscoverer {
	if logger == nil {
		logger = discardLogger()
	}
	return &trackerDiscoverer{peerID: peerID, log: logger, newTracker: tracker.NewTracker}
}

// GetPeers queries the trackers concurrently and merges their answers in
// announce order, without duplicates. It only fails when every tracker did.
func (d *trackerDiscoverer) GetPeers(metafile models.Metafile) ([]models.Peer, error) {
	announces := announceURLs(metafile)
	if len(announces) == 0 {
		return nil, tracker.ErrEmptyAnnounce
	}

	results := make([][]models.Peer, len(announces))
	errs := make([]error, len(announces))
	var wg sync.WaitGroup
	for i, announce := range announces {
		wg.Add(1)
		go func(i int, announce string) {
			defer wg.Done()
			d.log.Info("retrieving peers from tracker", slog.String("announce", announce))
			p, err := d.newTracker(announce, d.peerID).GetPeers(metafile)
			if err != nil {
				d.log.Warn("failed to get peers", slog.String("announce", announce), slog.Any("error", err))
				errs[i] = err
				return
			}
			results[i] = p
		}(i, announce)
	}
	wg.Wait()

	unifyPeers := make(map[string]struct{})
	peers := make([]models.Peer, 0)
	failed := 0
	for i, p := range results {
		if errs[i] != nil {
			failed++
			continue
		}
		for _, peer := range p {
			if peer.Addr.Host == "0.0.0.0" || peer.Addr.Port == 0 {
				continue
			}
			addr := peer.Addr.String()
			if _, ok := unifyPeers[addr]; ok {
				continue
			}
			unifyPeers[addr] = struct{}{}
			peers = append(peers, peer)
		}
	}
	if failed == len(announces) {
		return nil, errors.Join(errs...)
	}

	d.log.Info("retrieved peers", slog.Int("peers", len(peers)))
	return peers, nil
}

func announceURLs(metafile models.Metafile) []string {
	seen := make(map[string]struct{})
	urls := make([]string, 0)
	add := func(announce string) {
		if announce == "" {
			return
		}
		if _, ok := seen[announce]; ok {
			return
		}
		seen[announce] = struct{}{}
		urls = append(urls, announce)
	}

	add(metafile.Announce)
	for _, tier := range metafile.AnnounceList {
		for _, announce := range tier {
			add(announce)
		}
	}
	return urls
}
