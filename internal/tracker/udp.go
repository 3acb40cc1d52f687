package tracker

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

// https://www.bittorrent.org/beps/bep_0015.html
const (
	udpProtocolID  = 0x41727101980
	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3
	eventStarted   = 2
	peersRequested = 100
)

type UDPGetter struct {
	peerID  models.PeerID
	timeout time.Duration
}

func NewUDPGetter(peerID models.PeerID, timeout time.Duration) PeersGetter {
	return UDPGetter{peerID: peerID, timeout: timeout}
}

func (u UDPGetter) GetPeers(announce string, metafile models.Metafile) ([]models.Peer, error) {
	tracker, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("udp", tracker.Host, u.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if u.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(u.timeout)); err != nil {
			return nil, err
		}
	}

	transactionID := rand.Uint32()

	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:], udpProtocolID)          // connection_id
	binary.BigEndian.PutUint32(buf[8:], actionConnect)          // action
	binary.BigEndian.PutUint32(buf[12:], uint32(transactionID)) // transaction_id

	_, err = conn.Write(buf)
	if err != nil {
		return nil, err
	}

	resp := make([]byte, 16)
	readed, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	if err := checkUDPResponse(resp[:readed], actionConnect, transactionID, 16); err != nil {
		return nil, err
	}

	connectionID := binary.BigEndian.Uint64(resp[8:16])

	buf = make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], connectionID)                   // int64_t 	connection_id 	The connection id acquired from establishing the connection.
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)                // int32_t 	action 	Action. in this case, 1 for announce. See actions.
	binary.BigEndian.PutUint32(buf[12:16], transactionID)                // int32_t 	transaction_id 	Randomized by client.
	copy(buf[16:36], metafile.InfoHash[:])                               // int8_t[20] 	info_hash 	The info-hash of the torrent you want announce yourself in.
	copy(buf[36:56], u.peerID[:])                                        // int8_t[20] 	peer_id 	Your peer id.
	binary.BigEndian.PutUint64(buf[56:64], 0)                            // int64_t 	downloaded 	The number of byte you've downloaded in this session.
	binary.BigEndian.PutUint64(buf[64:72], uint64(metafile.Info.Length)) // int64_t 	left 	The number of bytes you have left to download until you're finished.
	binary.BigEndian.PutUint64(buf[72:80], 0)                            // int64_t 	uploaded 	The number of bytes you have uploaded in this session.
	binary.BigEndian.PutUint32(buf[80:84], eventStarted)                 // int32_t 	event
	binary.BigEndian.PutUint32(buf[84:88], 0)                            // uint32_t 	ip 	Your ip address. Set to 0 if you want the tracker to use the sender of this UDP packet.
	binary.BigEndian.PutUint32(buf[88:92], transactionID)                // uint32_t 	key 	A unique key that is randomized by the client.
	binary.BigEndian.PutUint32(buf[92:96], peersRequested)               // int32_t 	num_want 	The maximum number of peers you want in the reply. Use -1 for default.
	binary.BigEndian.PutUint16(buf[96:98], Port)                         // uint16_t 	port 	The port you're listening on.

	_, err = conn.Write(buf)
	if err != nil {
		return nil, err
	}

	resp = make([]byte, 20+peersRequested*6)
	readed, err = conn.Read(resp)
	if err != nil {
		return nil, err
	}
	if err := checkUDPResponse(resp[:readed], actionAnnounce, transactionID, 20); err != nil {
		return nil, err
	}

	// interval := binary.BigEndian.Uint32(resp[8:12])
	// leechers := binary.BigEndian.Uint32(resp[12:16])
	// seeders := binary.BigEndian.Uint32(resp[16:20])

	return decodeCompactPeers(resp[20:readed])
}

func checkUDPResponse(resp []byte, action, transactionID uint32, minLength int) error {
	if len(resp) >= 8 && binary.BigEndian.Uint32(resp[0:4]) == actionError {
		return fmt.Errorf("%w: %s", ErrTrackerFailure, resp[8:])
	}
	if len(resp) < minLength {
		return fmt.Errorf("%w: response of %d bytes", ErrTrackerFailure, len(resp))
	}
	if binary.BigEndian.Uint32(resp[0:4]) != action {
		return fmt.Errorf("%w: unexpected action %d", ErrTrackerFailure, binary.BigEndian.Uint32(resp[0:4]))
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return fmt.Errorf("%w: transaction id mismatch", ErrTrackerFailure)
	}
	return nil
}
