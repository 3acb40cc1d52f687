package p2p

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/wire"
)

var (
	ErrConnection        = errors.New("connection error")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrHandshakeFailed   = errors.New("handshake failed")
	ErrNotConnected      = errors.New("not connected")
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// UnexpectedMessageError is returned when the peer sends a message other than
// the one the session is waiting for.
type UnexpectedMessageError struct {
	Expected models.MessageID
	Actual   models.MessageID
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected message: expected %s, got %s", e.Expected, e.Actual)
}

func (e *UnexpectedMessageError) Is(target error) bool {
	return target == ErrUnexpectedMessage
}

type P2PClient interface {
	Connect(address models.Addr) error
	Disconnect() error
	Connected() bool
	State() State
	Handshake(hash models.Hash) (wire.Handshake, error)
	ReadMessage() (*wire.Message, error)
	WriteMessage(msg *wire.Message) error
	Expect(id models.MessageID) ([]byte, error)
}

type DialFunc func(network, address string) (net.Conn, error)

type Options struct {
	// Timeouts of zero block forever.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Dial replaces the default net.Dialer.
	Dial   DialFunc
	Logger *slog.Logger
}

type client struct {
	clientID    models.PeerID
	conn        net.Conn
	addr        models.Addr
	state       State
	outstanding int
	opts        Options
	log         *slog.Logger
}

func NewClient(clientID models.PeerID, opts Options) P2PClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &client{clientID: clientID, opts: opts, log: logger}
}

func (c *client) Connect(address models.Addr) error {
	dial := c.opts.Dial
	if dial == nil {
		dialer := net.Dialer{Timeout: c.opts.DialTimeout}
		dial = dialer.Dial
	}

	conn, err := dial("tcp", address.String())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, address, err)
	}
	c.conn = conn
	c.addr = address
	c.state = StateConnected
	c.outstanding = 0
	c.log = c.log.With(slog.String("peer", address.String()))
	c.log.Debug("connected")
	return nil
}

func (c *client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = StateClosed
	c.log.Debug("disconnected")
	return err
}

func (c *client) Connected() bool {
	return c.conn != nil
}

func (c *client) State() State {
	return c.state
}

// Handshake sends our handshake and blocks until the full 68 byte answer
// arrived. The peer must answer with the same info hash. A failed handshake
// closes the connection.
func (c *client) Handshake(hash models.Hash) (wire.Handshake, error) {
	if c.conn == nil {
		return wire.Handshake{}, ErrNotConnected
	}
	c.state = StateHandshaking

	h, err := c.handshake(hash)
	if err != nil {
		c.Disconnect()
		return wire.Handshake{}, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	c.state = StateReady
	c.log.Debug("handshake completed", slog.String("remote_peer_id", fmt.Sprintf("%x", h.PeerID)))
	return h, nil
}

func (c *client) handshake(hash models.Hash) (wire.Handshake, error) {
	req := wire.Handshake{InfoHash: hash, PeerID: c.clientID}
	if err := c.write(req.Bytes()); err != nil {
		return wire.Handshake{}, err
	}

	resp, err := c.read(wire.HandshakeLength)
	if err != nil {
		return wire.Handshake{}, err
	}

	h, err := wire.DecodeHandshake(resp)
	if err != nil {
		return wire.Handshake{}, err
	}
	if h.InfoHash != hash {
		return wire.Handshake{}, fmt.Errorf("expected info hash %s, got %s", hash, h.InfoHash)
	}
	return h, nil
}

// WriteMessage writes one encoded message in a single write.
func (c *client) WriteMessage(msg *wire.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.log.Debug("sending message", slog.String("message", msg.String()))
	if err := c.write(msg.Bytes()); err != nil {
		return err
	}
	if msg != nil && msg.ID == models.MessageIDRequest {
		c.outstanding++
		c.state = StateRequesting
	}
	return nil
}

// ReadMessage blocks until one full message arrived. Keep-alives are
// returned as nil.
func (c *client) ReadMessage() (*wire.Message, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if err := c.setReadDeadline(); err != nil {
		return nil, err
	}
	msg, err := wire.Read(c.conn)
	if err != nil {
		if errors.Is(err, wire.ErrMessageTooLarge) {
			return nil, err
		}
		return nil, classify(err)
	}
	c.log.Debug("received message", slog.String("message", msg.String()))
	return msg, nil
}

// Expect reads the next message and fails unless it carries id. Keep-alives
// carry no id and are skipped.
func (c *client) Expect(id models.MessageID) ([]byte, error) {
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		if msg.ID != id {
			return nil, &UnexpectedMessageError{Expected: id, Actual: msg.ID}
		}
		if id == models.MessageIDPiece && c.outstanding > 0 {
			c.outstanding--
			if c.outstanding == 0 {
				c.state = StateReady
			}
		}
		return msg.Payload, nil
	}
}

func (c *client) write(buf []byte) error {
	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return classify(err)
		}
	}
	if _, err := c.conn.Write(buf); err != nil {
		return classify(err)
	}
	return nil
}

func (c *client) read(n int) ([]byte, error) {
	if err := c.setReadDeadline(); err != nil {
		return nil, err
	}
	buf, err := decoder.ReadBytes(c.conn, n)
	if err != nil {
		return nil, classify(err)
	}
	return buf, nil
}

func (c *client) setReadDeadline() error {
	if c.opts.ReadTimeout <= 0 {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
}
