package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Addr is a connectable peer endpoint.
type Addr struct {
	Host string
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

var ErrInvalidAddr = errors.New("invalid address")

// ReadFromBytes decodes the 6 byte compact form used by trackers.
func (a *Addr) ReadFromBytes(b []byte) error {
	if len(b) != 6 {
		return ErrInvalidAddr
	}

	a.Host = net.IP(b[:4]).String()
	a.Port = binary.BigEndian.Uint16(b[4:])

	return nil
}

// ParseAddr parses a host:port string.
func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || host == "" {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddr, s)
	}
	return Addr{Host: host, Port: uint16(p)}, nil
}
