// Package p2ptest provides an in-process seeder speaking the peer wire
// protocol, for use in tests.
package p2ptest

import (
	"crypto/sha1"
	"net"
	"sync"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/wire"
)

// Peer serves Data, split in pieces of PieceLength, to any client that
// completes a handshake for InfoHash. The zero values of the knobs describe a
// well behaved seeder.
type Peer struct {
	InfoHash    models.Hash
	PeerID      models.PeerID
	Data        []byte
	PieceLength int

	// ReplyInfoHash, when set, is answered in the handshake instead of InfoHash.
	ReplyInfoHash *models.Hash
	// NoBitfield skips the bitfield message after the handshake.
	NoBitfield bool
	// Missing pieces are left out of the bitfield.
	Missing map[int]bool
	// Have is announced with have messages after the bitfield.
	Have []int
	// Corrupt pieces are served with their first bit flipped.
	Corrupt map[int]bool
	// WrongIndex responses carry index+1 for the first n requests.
	WrongIndex int
	// KeepAlive sends a keep-alive before every piece message.
	KeepAlive bool
	// Choke answers interested with choke instead of unchoke.
	Choke bool

	ln       net.Listener
	mu       sync.Mutex
	closed   bool
	conns    map[net.Conn]struct{}
	accepted int
	requests []models.BlockRequest
	wg       sync.WaitGroup
}

// NewPeer builds a seeder for data and returns it along with the matching
// torrent info.
func NewPeer(infoHash models.Hash, data []byte, pieceLength int) (*Peer, models.Info) {
	info := models.Info{
		Name:        "sample.txt",
		Length:      len(data),
		PieceLength: pieceLength,
	}
	for begin := 0; begin < len(data); begin += pieceLength {
		end := min(begin+pieceLength, len(data))
		info.PiecesHashes = append(info.PiecesHashes, sha1.Sum(data[begin:end]))
	}
	peer := &Peer{
		InfoHash:    infoHash,
		PeerID:      models.PeerID([]byte("-P2PTEST-0123456789a")),
		Data:        data,
		PieceLength: pieceLength,
	}
	return peer, info
}

// Start listens on a random loopback port.
func (p *Peer) Start() (models.Addr, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return models.Addr{}, err
	}
	p.ln = ln
	p.conns = make(map[net.Conn]struct{})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				conn.Close()
				return
			}
			p.conns[conn] = struct{}{}
			p.accepted++
			p.mu.Unlock()

			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.serve(conn)
			}()
		}
	}()

	return models.ParseAddr(ln.Addr().String())
}

func (p *Peer) Close() error {
	if p.ln == nil {
		return nil
	}
	err := p.ln.Close()
	p.mu.Lock()
	p.closed = true
	for conn := range p.conns {
		conn.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return err
}

// Connections returns how many connections were accepted so far.
func (p *Peer) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

// Requests returns every block request received so far, in order.
func (p *Peer) Requests() []models.BlockRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.BlockRequest(nil), p.requests...)
}

// Bitfield returns the bitfield advertised after the handshake.
func (p *Peer) Bitfield() []byte {
	count := (len(p.Data) + p.PieceLength - 1) / p.PieceLength
	bitfield := make([]byte, (count+7)/8)
	for i := 0; i < count; i++ {
		if p.Missing[i] {
			continue
		}
		bitfield[i/8] |= 1 << uint(7-i%8)
	}
	return bitfield
}

func (p *Peer) serve(conn net.Conn) {
	defer func() {
		conn.Close()
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
	}()

	buf, err := decoder.ReadBytes(conn, wire.HandshakeLength)
	if err != nil {
		return
	}
	if _, err := wire.DecodeHandshake(buf); err != nil {
		return
	}

	reply := wire.Handshake{InfoHash: p.InfoHash, PeerID: p.PeerID}
	if p.ReplyInfoHash != nil {
		reply.InfoHash = *p.ReplyInfoHash
	}
	if _, err := conn.Write(reply.Bytes()); err != nil {
		return
	}
	if !p.NoBitfield {
		if _, err := conn.Write(wire.NewBitfield(p.Bitfield()).Bytes()); err != nil {
			return
		}
	}
	for _, index := range p.Have {
		if _, err := conn.Write(wire.NewHave(index).Bytes()); err != nil {
			return
		}
	}

	for {
		msg, err := wire.Read(conn)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}

		var out []*wire.Message
		switch msg.ID {
		case models.MessageIDInterested:
			if p.Choke {
				out = append(out, &wire.Message{ID: models.MessageIDChoke})
			} else {
				out = append(out, &wire.Message{ID: models.MessageIDUnchoke})
			}
		case models.MessageIDRequest:
			req, err := wire.ParseRequest(msg)
			if err != nil {
				return
			}
			if p.KeepAlive {
				out = append(out, nil)
			}
			out = append(out, p.piece(req))
		}

		for _, m := range out {
			if _, err := conn.Write(m.Bytes()); err != nil {
				return
			}
		}
	}
}

func (p *Peer) piece(req models.BlockRequest) *wire.Message {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	index := req.Index
	if p.WrongIndex > 0 {
		p.WrongIndex--
		index++
	}
	p.mu.Unlock()

	begin := req.Index*p.PieceLength + req.Begin
	end := min(begin+req.Length, len(p.Data))
	begin = min(begin, end)
	block := append([]byte(nil), p.Data[begin:end]...)
	if p.Corrupt[req.Index] && req.Begin == 0 && len(block) > 0 {
		block[0] ^= 0x01
	}
	return wire.NewPiece(index, req.Begin, block)
}
