package socks5

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// State is a step of the server handshake. The handshake only ever moves
// forward through these states.
type State uint8

const (
	StateAwaitGreeting State = iota
	StateAwaitMethods
	StateAwaitRequest
	StateConnect
	StateReply
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateAwaitGreeting:
		return "await greeting"
	case StateAwaitMethods:
		return "await methods"
	case StateAwaitRequest:
		return "await request"
	case StateConnect:
		return "connect"
	case StateReply:
		return "reply"
	case StateEstablished:
		return "established"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// ContextDialer opens outbound streams. The LocalAddr of each returned conn
// is what the success reply reports as the bound address. *net.Dialer and
// every upstream in package dialer satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Negotiation is the outcome of method selection.
type Negotiation struct {
	Offered []byte
	Chosen  byte
}

// Request is a parsed client request. Exactly one of IP and Domain is set,
// according to AddrType.
type Request struct {
	Command  byte
	AddrType byte
	IP       net.IP
	Domain   string
	Port     uint16
}

// Host returns the destination host without port.
func (r *Request) Host() string {
	if r.AddrType == AddrTypeDomain {
		return r.Domain
	}
	return r.IP.String()
}

// Address returns the destination as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host(), strconv.Itoa(int(r.Port)))
}

// Session is a client connection that completed the handshake. It owns both
// streams; the caller is responsible for relaying and closing them.
type Session struct {
	Client      net.Conn
	Server      net.Conn
	Negotiation Negotiation
	Request     Request
	// Bound is the local address of Server as reported to the client.
	Bound *net.TCPAddr
}

// Engine runs the server side of the SOCKS5 handshake. An Engine holds no
// per-session state and may be shared by concurrent sessions.
type Engine struct {
	Dialer ContextDialer

	// NegotiationTimeout, if set, bounds the whole handshake including the
	// destination dial. The deadline is cleared before Handshake returns
	// successfully.
	NegotiationTimeout time.Duration

	// ReplyOnConnectFailure sends a SOCKS5 failure reply before closing the
	// client when the destination can't be reached. By default the client
	// only sees the connection close.
	ReplyOnConnectFailure bool
}

// Handshake drives client from its greeting to an established Session.
//
// On failure both client and any destination stream are closed and the
// returned error is a *StateError wrapping one of the package's sentinel
// errors. Warnings are logged to the zerolog.Logger carried by ctx.
func (e *Engine) Handshake(ctx context.Context, client net.Conn) (*Session, error) {
	if e.NegotiationTimeout > 0 {
		deadline := time.Now().Add(e.NegotiationTimeout)
		_ = client.SetDeadline(deadline)

		// The dial only sees ctx, so it needs the same deadline.
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	s := &Session{Client: client}
	if state, err := e.run(ctx, s); err != nil {
		if s.Server != nil {
			_ = s.Server.Close()
		}
		_ = client.Close()
		return nil, &StateError{State: state, Err: err}
	}

	if e.NegotiationTimeout > 0 {
		_ = client.SetDeadline(time.Time{})
	}
	return s, nil
}

func (e *Engine) run(ctx context.Context, s *Session) (State, error) {
	if err := readGreeting(s.Client); err != nil {
		return StateAwaitGreeting, err
	}

	neg, err := negotiate(s.Client)
	if err != nil {
		return StateAwaitMethods, err
	}
	s.Negotiation = neg

	req, err := readRequest(ctx, s.Client)
	if err != nil {
		return StateAwaitRequest, err
	}
	s.Request = req

	s.Server, err = e.connect(ctx, s.Client, &req)
	if err != nil {
		return StateConnect, err
	}

	s.Bound, err = writeSuccessReply(ctx, s.Client, s.Server.LocalAddr())
	if err != nil {
		return StateReply, err
	}

	return StateEstablished, nil
}

func readGreeting(r io.Reader) error {
	ver, err := ReadByte(r)
	if err != nil {
		return fmt.Errorf("greeting version: %w", err)
	}
	if ver != Version5 {
		return fmt.Errorf("%w: greeting version %#04x", ErrProtocolMismatch, ver)
	}
	return nil
}

func negotiate(rw io.ReadWriter) (Negotiation, error) {
	n, err := ReadByte(rw)
	if err != nil {
		return Negotiation{}, fmt.Errorf("nmethods: %w", err)
	}
	if n > MaxMethods {
		return Negotiation{}, fmt.Errorf("%w: %d", ErrTooManyMethods, n)
	}

	methods, err := ReadExact(rw, int(n))
	if err != nil {
		return Negotiation{}, fmt.Errorf("methods: %w", err)
	}

	if !slices.Contains(methods, MethodNoAuth) {
		neg := Negotiation{Offered: methods, Chosen: MethodNoAcceptable}
		if err := WriteFull(rw, []byte{Version5, MethodNoAcceptable}); err != nil {
			return neg, fmt.Errorf("%w: write method selection: %w", ErrNoAcceptableMethod, err)
		}
		return neg, fmt.Errorf("%w: offered %v", ErrNoAcceptableMethod, methods)
	}

	neg := Negotiation{Offered: methods, Chosen: MethodNoAuth}
	if err := WriteFull(rw, []byte{Version5, MethodNoAuth}); err != nil {
		return neg, fmt.Errorf("write method selection: %w", err)
	}
	return neg, nil
}

func readRequest(ctx context.Context, r io.Reader) (Request, error) {
	log := zerolog.Ctx(ctx)

	ver, err := ReadByte(r)
	if err != nil {
		return Request{}, fmt.Errorf("request version: %w", err)
	}
	if ver != Version5 {
		return Request{}, fmt.Errorf("%w: request version %#04x", ErrProtocolMismatch, ver)
	}

	cmd, err := ReadByte(r)
	if err != nil {
		return Request{}, fmt.Errorf("command: %w", err)
	}
	verdict, err := ValidateCommand(cmd)
	if verdict == Reject {
		return Request{}, err
	}
	if verdict == WarnAndContinue {
		log.Warn().Uint8("command", cmd).Msg("unsupported command, handling as CONNECT")
	}

	if _, err := ReadByte(r); err != nil {
		return Request{}, fmt.Errorf("reserved: %w", err)
	}

	atyp, err := ReadByte(r)
	if err != nil {
		return Request{}, fmt.Errorf("address type: %w", err)
	}
	verdict, err = ValidateAddressType(atyp)
	if verdict == Reject {
		return Request{}, err
	}
	if verdict == WarnAndContinue {
		log.Warn().Uint8("atyp", atyp).Msg("unknown address type")
	}

	req := Request{Command: cmd, AddrType: atyp}
	if err := readAddress(r, &req); err != nil {
		return Request{}, err
	}

	port, err := ReadExact(r, 2)
	if err != nil {
		return Request{}, fmt.Errorf("port: %w", err)
	}
	req.Port = DecodePort(port)

	return req, nil
}

func readAddress(r io.Reader, req *Request) error {
	switch req.AddrType {
	case AddrTypeIPv4:
		b, err := ReadExact(r, net.IPv4len)
		if err != nil {
			return fmt.Errorf("ipv4 address: %w", err)
		}
		req.IP = net.IP(b)
	case AddrTypeDomain:
		n, err := ReadByte(r)
		if err != nil {
			return fmt.Errorf("domain length: %w", err)
		}
		if n == 0 {
			// An empty host would dial the local machine.
			return fmt.Errorf("%w: empty domain", ErrUnsupportedAddressFamily)
		}
		b, err := ReadExact(r, int(n))
		if err != nil {
			return fmt.Errorf("domain: %w", err)
		}
		req.Domain = string(b)
	default:
		return fmt.Errorf("%w: address type %#04x", ErrUnsupportedAddressFamily, req.AddrType)
	}
	return nil
}

func (e *Engine) connect(ctx context.Context, client io.Writer, req *Request) (net.Conn, error) {
	addr := req.Address()
	zerolog.Ctx(ctx).Debug().Str("dst", addr).Msg("connecting")

	conn, err := e.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if e.ReplyOnConnectFailure {
			_ = WriteFailureReply(client, ReplyCodeFor(err))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamConnectFailed, addr, err)
	}
	return conn, nil
}

// writeSuccessReply reports local as the bound address. Only IPv4 can be
// encoded; any other local address is logged and sent as 0.0.0.0.
func writeSuccessReply(ctx context.Context, w io.Writer, local net.Addr) (*net.TCPAddr, error) {
	bound := &net.TCPAddr{IP: net.IPv4zero}
	if ta, ok := local.(*net.TCPAddr); ok {
		bound.Port = ta.Port
		if ip4 := ta.IP.To4(); ip4 != nil {
			bound.IP = ip4
		}
	}
	if bound.IP.Equal(net.IPv4zero) {
		zerolog.Ctx(ctx).Warn().Stringer("local", local).Msg("bound address is not ipv4")
	}

	if err := WriteFull(w, EncodeIPv4Reply(ReplySucceeded, bound.IP, uint16(bound.Port))); err != nil {
		return nil, fmt.Errorf("write reply: %w", err)
	}
	return bound, nil
}
