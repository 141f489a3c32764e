package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// Protocol constants from RFC 1928.
const (
	Version5 byte = 0x05

	MethodNoAuth       byte = 0x00
	MethodUserPass     byte = 0x02
	MethodNoAcceptable byte = 0xff

	// UserPassVersion is the RFC 1929 subnegotiation version.
	UserPassVersion byte = 0x01

	CmdConnect      byte = 0x01
	CmdBind         byte = 0x02
	CmdUDPAssociate byte = 0x03

	AddrTypeIPv4   byte = 0x01
	AddrTypeDomain byte = 0x03
	AddrTypeIPv6   byte = 0x04

	ReplySucceeded          byte = 0x00
	ReplyGeneralFailure     byte = 0x01
	ReplyNetworkUnreachable byte = 0x03
	ReplyHostUnreachable    byte = 0x04
	ReplyConnectionRefused  byte = 0x05
)

// MaxMethods is the largest method list a greeting may carry.
const MaxMethods = 5

// IPv4ReplyLen is the encoded size of a reply carrying an IPv4 bound address.
const IPv4ReplyLen = 10

// ReadExact reads exactly n bytes from r. If the stream ends before n bytes
// arrive the error wraps ErrShortRead and no partial data is returned.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read %d bytes: %w", n, ErrShortRead)
		}
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return b, nil
}

// ReadByte reads a single byte from r.
func ReadByte(r io.Reader) (byte, error) {
	b, err := ReadExact(r, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// DecodePort decodes a big-endian port. b must be at least 2 bytes long.
func DecodePort(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// EncodePort encodes p as 2 big-endian bytes.
func EncodePort(p uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, p)
}

// EncodeIPv4Reply encodes VER REP RSV ATYP BND.ADDR BND.PORT with an IPv4
// bound address. An ip that is not expressible as IPv4 is encoded as 0.0.0.0.
func EncodeIPv4Reply(status byte, ip net.IP, port uint16) []byte {
	b := make([]byte, 0, IPv4ReplyLen)
	b = append(b, Version5, status, 0x00, AddrTypeIPv4)

	ip4 := ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	b = append(b, ip4...)

	return binary.BigEndian.AppendUint16(b, port)
}

// WriteFull writes all of b to w and flushes w if it buffers.
func WriteFull(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
