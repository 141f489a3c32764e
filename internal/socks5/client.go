package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

// Auth holds optional username/password credentials presented to an
// upstream SOCKS5 server.
type Auth struct {
	Username string
	Password string
}

// ReplyError is a non-success reply from an upstream SOCKS5 server. It
// matches ErrUpstreamConnectFailed, and ReplyCodeFor passes its code through
// so a chained client sees the upstream's own verdict.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%v: upstream replied %#04x", ErrUpstreamConnectFailed, e.Code)
}

func (e *ReplyError) Is(target error) bool {
	return target == ErrUpstreamConnectFailed
}

// ClientDial negotiates with the SOCKS5 server on rw and asks it to CONNECT
// to address. On success rw carries the tunneled stream and the returned
// address is the one the server bound for it.
func ClientDial(rw io.ReadWriter, auth Auth, address string) (*net.TCPAddr, error) {
	if err := ClientNegotiate(rw, auth); err != nil {
		return nil, err
	}
	return ClientConnect(rw, address)
}

// ClientNegotiate offers no-auth, plus username/password when auth carries a
// username, and completes whichever method the server picks.
func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	greeting := []byte{Version5, 1, MethodNoAuth}
	if auth.Username != "" {
		greeting = []byte{Version5, 2, MethodNoAuth, MethodUserPass}
	}
	if err := WriteFull(rw, greeting); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}

	sel, err := ReadExact(rw, 2)
	if err != nil {
		return fmt.Errorf("read method selection: %w", err)
	}
	if sel[0] != Version5 {
		return fmt.Errorf("%w: method selection version %#04x", ErrProtocolMismatch, sel[0])
	}

	switch sel[1] {
	case MethodNoAuth:
		return nil
	case MethodUserPass:
		if auth.Username == "" {
			return fmt.Errorf("%w: server wants username/password", ErrNoAcceptableMethod)
		}
		return userPass(rw, auth)
	case MethodNoAcceptable:
		return ErrNoAcceptableMethod
	default:
		return fmt.Errorf("%w: server picked %#04x", ErrNoAcceptableMethod, sel[1])
	}
}

func userPass(rw io.ReadWriter, auth Auth) error {
	if len(auth.Username) > 255 || len(auth.Password) > 255 {
		return errors.New("username or password longer than 255 bytes")
	}

	b := make([]byte, 0, 3+len(auth.Username)+len(auth.Password))
	b = append(b, UserPassVersion, byte(len(auth.Username)))
	b = append(b, auth.Username...)
	b = append(b, byte(len(auth.Password)))
	b = append(b, auth.Password...)
	if err := WriteFull(rw, b); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	status, err := ReadExact(rw, 2)
	if err != nil {
		return fmt.Errorf("read auth status: %w", err)
	}
	if status[1] != 0x00 {
		return fmt.Errorf("%w: credentials rejected", ErrNoAcceptableMethod)
	}
	return nil
}

// ClientConnect sends a CONNECT request for address and reads the reply.
// IP literals are sent as such; anything else goes as a domain name for the
// server to resolve.
func ClientConnect(rw io.ReadWriter, address string) (*net.TCPAddr, error) {
	req, err := encodeConnect(address)
	if err != nil {
		return nil, err
	}
	if err := WriteFull(rw, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	hdr, err := ReadExact(rw, 4)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if hdr[0] != Version5 {
		return nil, fmt.Errorf("%w: reply version %#04x", ErrProtocolMismatch, hdr[0])
	}
	if hdr[1] != ReplySucceeded {
		return nil, &ReplyError{Code: hdr[1]}
	}

	bound, err := readBoundAddr(rw, hdr[3])
	if err != nil {
		return nil, fmt.Errorf("read bound address: %w", err)
	}
	return bound, nil
}

func encodeConnect(address string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	b := []byte{Version5, CmdConnect, 0x00}
	ip := net.ParseIP(host)
	switch {
	case ip.To4() != nil:
		b = append(b, AddrTypeIPv4)
		b = append(b, ip.To4()...)
	case ip != nil:
		b = append(b, AddrTypeIPv6)
		b = append(b, ip.To16()...)
	default:
		if host == "" || len(host) > 255 {
			return nil, fmt.Errorf("%w: domain length %d", ErrUnsupportedAddressFamily, len(host))
		}
		b = append(b, AddrTypeDomain, byte(len(host)))
		b = append(b, host...)
	}
	return append(b, EncodePort(uint16(port))...), nil
}

// readBoundAddr decodes BND.ADDR and BND.PORT. A domain-name bound address
// carries no usable IP and is returned as the unspecified address.
func readBoundAddr(r io.Reader, atyp byte) (*net.TCPAddr, error) {
	bound := &net.TCPAddr{IP: net.IPv4zero}
	switch atyp {
	case AddrTypeIPv4:
		b, err := ReadExact(r, net.IPv4len)
		if err != nil {
			return nil, err
		}
		bound.IP = net.IP(b)
	case AddrTypeIPv6:
		b, err := ReadExact(r, net.IPv6len)
		if err != nil {
			return nil, err
		}
		bound.IP = net.IP(b)
	case AddrTypeDomain:
		n, err := ReadByte(r)
		if err != nil {
			return nil, err
		}
		if _, err := ReadExact(r, int(n)); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: address type %#04x", ErrUnsupportedAddressFamily, atyp)
	}

	port, err := ReadExact(r, 2)
	if err != nil {
		return nil, err
	}
	bound.Port = int(DecodePort(port))
	return bound, nil
}
