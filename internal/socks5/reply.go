package socks5

import (
	"errors"
	"io"
	"net"
	"syscall"

	txsocks5 "github.com/txthinking/socks5"
)

// WriteFailureReply writes a SOCKS5 reply carrying rep and a zero IPv4 bound
// address.
func WriteFailureReply(w io.Writer, rep byte) error {
	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(w)
	return err
}

// ReplyCodeFor maps a destination connect error to a SOCKS5 reply code.
func ReplyCodeFor(err error) byte {
	var replyErr *ReplyError
	if errors.As(err, &replyErr) {
		return replyErr.Code
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReplyConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return ReplyNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return ReplyHostUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReplyHostUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReplyHostUnreachable
	}

	return ReplyGeneralFailure
}
