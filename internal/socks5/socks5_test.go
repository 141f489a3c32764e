package socks5

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"
)

// scriptedServer answers a client with canned bytes and records what the
// client sent.
type scriptedServer struct {
	bytes.Buffer
	replies *bytes.Reader
}

func (s *scriptedServer) Read(b []byte) (int, error) {
	return s.replies.Read(b)
}

func newScriptedServer(replies ...[]byte) *scriptedServer {
	return &scriptedServer{replies: bytes.NewReader(bytes.Join(replies, nil))}
}

func TestClientDialToEngine(t *testing.T) {
	tests := []struct {
		name string
		auth Auth
		addr string
		want string
	}{
		{name: "no_auth", addr: "127.0.0.1:80", want: "tcp 127.0.0.1:80"},
		{name: "domain", addr: "example.com:443", want: "tcp example.com:443"},
		// The engine only offers no-auth, which the client also lists.
		{name: "user_pass_offered", auth: Auth{Username: "user", Password: "pass"}, addr: "127.0.0.1:80", want: "tcp 127.0.0.1:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()

			up := &fakeUpstream{local: testBound}
			defer up.Close()
			e := &Engine{Dialer: up}

			g := errgroup.Group{}
			g.Go(func() error {
				s, err := e.Handshake(context.Background(), serverConn)
				if err != nil {
					return err
				}
				_ = s.Server.Close()
				return s.Client.Close()
			})

			bound, err := ClientDial(clientConn, tt.auth, tt.addr)
			if err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			if got := up.Dialed(); len(got) != 1 || got[0] != tt.want {
				t.Fatalf("dialed %v want %s", got, tt.want)
			}
			if bound.String() != testBound.String() {
				t.Fatalf("bound %v want %v", bound, testBound)
			}
		})
	}
}

func TestClientDialConnectRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	e := &Engine{Dialer: &fakeUpstream{err: errors.New("no route")}, ReplyOnConnectFailure: true}

	done := make(chan error, 1)
	go func() {
		_, err := e.Handshake(context.Background(), serverConn)
		done <- err
	}()

	_, err := ClientDial(clientConn, Auth{}, "127.0.0.1:1")
	if !errors.Is(err, ErrUpstreamConnectFailed) {
		t.Fatalf("err=%v want ErrUpstreamConnectFailed", err)
	}
	var replyErr *ReplyError
	if !errors.As(err, &replyErr) || replyErr.Code != ReplyGeneralFailure {
		t.Fatalf("err=%v want general failure reply", err)
	}
	if err := <-done; !errors.Is(err, ErrUpstreamConnectFailed) {
		t.Fatalf("server err=%v", err)
	}
}

func TestClientDialUserPass(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(
		[]byte{0x05, MethodUserPass},
		[]byte{UserPassVersion, 0x00},
		[]byte{0x05, 0x00, 0x00, 0x04}, net.IPv6loopback, []byte{0x01, 0xbb},
	)

	bound, err := ClientDial(srv, Auth{Username: "user", Password: "pass"}, "[2001:db8::1]:8080")
	if err != nil {
		t.Fatal(err)
	}
	if !bound.IP.Equal(net.IPv6loopback) || bound.Port != 443 {
		t.Fatalf("bound %v", bound)
	}

	want := bytes.Join([][]byte{
		{0x05, 0x02, MethodNoAuth, MethodUserPass},
		{UserPassVersion, 4}, []byte("user"), {4}, []byte("pass"),
		{0x05, CmdConnect, 0x00, AddrTypeIPv6}, net.ParseIP("2001:db8::1").To16(), {0x1f, 0x90},
	}, nil)
	if !bytes.Equal(srv.Bytes(), want) {
		t.Fatalf("sent %x want %x", srv.Bytes(), want)
	}
}

func TestClientNegotiateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		auth    Auth
		replies [][]byte
		want    error
	}{
		{name: "no acceptable", replies: [][]byte{{0x05, 0xff}}, want: ErrNoAcceptableMethod},
		{name: "user pass without credentials", replies: [][]byte{{0x05, MethodUserPass}}, want: ErrNoAcceptableMethod},
		{name: "bad credentials", auth: Auth{Username: "u", Password: "p"}, replies: [][]byte{{0x05, MethodUserPass}, {UserPassVersion, 0x01}}, want: ErrNoAcceptableMethod},
		{name: "wrong version", replies: [][]byte{{0x04, 0x00}}, want: ErrProtocolMismatch},
		{name: "short", replies: [][]byte{{0x05}}, want: ErrShortRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := ClientNegotiate(newScriptedServer(tt.replies...), tt.auth); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
		})
	}
}

func TestClientConnectBoundAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply []byte
		want  string
	}{
		{name: "ipv4", reply: []byte{0x05, 0x00, 0x00, 0x01, 198, 51, 100, 9, 0x00, 0x50}, want: "198.51.100.9:80"},
		{name: "domain", reply: []byte{0x05, 0x00, 0x00, 0x03, 0x03, 'a', '.', 'b', 0x00, 0x50}, want: "0.0.0.0:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newScriptedServer(tt.reply)
			bound, err := ClientConnect(srv, "example.com:80")
			if err != nil {
				t.Fatal(err)
			}
			if bound.String() != tt.want {
				t.Fatalf("bound %v want %s", bound, tt.want)
			}

			want := append([]byte{0x05, CmdConnect, 0x00, AddrTypeDomain, 11}, "example.com"...)
			want = append(want, 0x00, 0x50)
			if !bytes.Equal(srv.Bytes(), want) {
				t.Fatalf("sent %x want %x", srv.Bytes(), want)
			}
		})
	}
}

func TestClientConnectInvalidAddress(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"no-port", "example.com:99999", ":80"} {
		if _, err := ClientConnect(newScriptedServer(), addr); err == nil {
			t.Fatalf("%q: expected error", addr)
		}
	}
}
