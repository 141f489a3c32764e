package socks5

import (
	"errors"
	"fmt"
)

// Handshake failures. Every one of them is terminal for the session.
var (
	ErrProtocolMismatch         = errors.New("socks5: protocol version mismatch")
	ErrTooManyMethods           = errors.New("socks5: too many methods")
	ErrNoAcceptableMethod       = errors.New("socks5: no acceptable method")
	ErrUnknownCommand           = errors.New("socks5: unknown command")
	ErrUnsupportedAddressFamily = errors.New("socks5: unsupported address family")
	ErrShortRead                = errors.New("socks5: short read")
	ErrUpstreamConnectFailed    = errors.New("socks5: upstream connect failed")
)

// StateError records the handshake state a failure happened in.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// Verdict is the outcome of validating a single request field.
type Verdict uint8

const (
	Accept Verdict = iota
	// WarnAndContinue means the value is not serviced but the handshake
	// carries on as though it had been acceptable.
	WarnAndContinue
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case WarnAndContinue:
		return "warn"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// ValidateCommand classifies a request command. CONNECT is accepted, BIND
// and UDP ASSOCIATE are warned about, anything else is rejected.
func ValidateCommand(cmd byte) (Verdict, error) {
	switch cmd {
	case CmdConnect:
		return Accept, nil
	case CmdBind, CmdUDPAssociate:
		return WarnAndContinue, nil
	default:
		return Reject, fmt.Errorf("%w: %#04x", ErrUnknownCommand, cmd)
	}
}

// ValidateAddressType classifies a request address type. IPv4 and domain
// names are accepted and IPv6 is rejected. Unknown values only produce a
// warning here; readAddress rejects them afterwards because it can only
// decode IPv4 and domain names.
func ValidateAddressType(atyp byte) (Verdict, error) {
	switch atyp {
	case AddrTypeIPv4, AddrTypeDomain:
		return Accept, nil
	case AddrTypeIPv6:
		return Reject, fmt.Errorf("%w: ipv6", ErrUnsupportedAddressFamily)
	default:
		return WarnAndContinue, nil
	}
}
