package tracker

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/jackpal/bencode-go"
)

type HTTPGetter struct {
	client *http.Client
	peerID models.PeerID
}

func NewHTTPGetter(client *http.Client, peerID models.PeerID) PeersGetter {
	return &HTTPGetter{client: client, peerID: peerID}
}

func (h *HTTPGetter) GetPeers(announce string, metafile models.Metafile) ([]models.Peer, error) {
	tracker, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}

	query := tracker.Query()
	query.Add("info_hash", string(metafile.InfoHash[:]))
	query.Add("peer_id", string(h.peerID[:]))
	query.Add("port", strconv.Itoa(Port))
	query.Add("uploaded", "0")
	query.Add("downloaded", "0")
	query.Add("left", strconv.Itoa(metafile.Info.Length))
	query.Add("compact", "1")
	query.Add("event", "started")
	tracker.RawQuery = query.Encode()

	response, err := h.client.Get(tracker.String())
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %s", ErrTrackerFailure, response.Status)
	}

	resp, err := decodeHTTPResponse(response.Body)
	if err != nil {
		return nil, err
	}
	if resp.FailureReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, resp.FailureReason)
	}

	return decodeCompactPeers([]byte(resp.Peers))
}

func decodeHTTPResponse(response io.Reader) (peersResponse, error) {
	resp := peersResponse{}
	err := bencode.Unmarshal(response, &resp)
	if err != nil {
		return peersResponse{}, fmt.Errorf("decode tracker response: %w", err)
	}
	return resp, nil
}
