package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/die-net/minisocks/internal/socks5"
)

// HTTPProxyDialer tunnels through an HTTP or HTTPS proxy with CONNECT.
type HTTPProxyDialer struct {
	cfg    Config
	proxy  *url.URL
	header http.Header
	direct Dialer
}

// NewHTTPProxyDialer returns a dialer for the proxy at u. A non-empty
// auth.Username is sent as HTTP Basic Proxy-Authorization.
func NewHTTPProxyDialer(cfg Config, u *url.URL, auth socks5.Auth) (Dialer, error) {
	if u == nil || u.Hostname() == "" {
		return nil, errors.New("http proxy: missing proxy host")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("http proxy: unsupported scheme %q", u.Scheme)
	}

	header := make(http.Header)
	if auth.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		header.Set("Proxy-Authorization", "Basic "+cred)
	}

	return &HTTPProxyDialer{
		cfg:    cfg,
		proxy:  u,
		header: header,
		direct: NewDirectDialer(cfg),
	}, nil
}

// DialContext opens a tunnel to address. With an https proxy the CONNECT
// exchange runs over TLS. Bytes the proxy sends right behind its 2xx
// response are kept for the first reads.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxy.Host)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	tc, err := negotiate(ctx, d.cfg, c, func(c net.Conn) (net.Conn, error) {
		if d.proxy.Scheme == "https" {
			tlsConn := tls.Client(c, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: d.proxy.Hostname()})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				return nil, fmt.Errorf("tls handshake: %w", err)
			}
			c = tlsConn
		}
		return d.connect(c, address)
	})
	if err != nil {
		return nil, fmt.Errorf("http proxy dial %s %s: %w", network, address, err)
	}
	return tc, nil
}

func (d *HTTPProxyDialer) connect(c net.Conn, address string) (net.Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: d.header,
	}
	if err := req.Write(c); err != nil {
		return nil, fmt.Errorf("write connect: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("read connect response: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: proxy answered %s", socks5.ErrUpstreamConnectFailed, resp.Status)
	}

	// The proxy reports no bound address, so LocalAddr stays the local end
	// of the proxy connection.
	return &tunnelConn{Conn: c, r: br}, nil
}
