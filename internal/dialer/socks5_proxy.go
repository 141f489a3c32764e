package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/minisocks/internal/socks5"
)

// SOCKS5ProxyDialer chains through another SOCKS5 server. Destinations are
// forwarded unresolved, so the upstream resolves domain names.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5ProxyDialer returns a dialer for the SOCKS5 server at proxyAddr.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr string, auth socks5.Auth) Dialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      auth,
		direct:    NewDirectDialer(cfg),
	}
}

// DialContext opens a tunnel to address. The returned conn's LocalAddr is
// the address the upstream bound for it, when that is a concrete IP.
func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	tc, err := negotiate(ctx, d.cfg, c, func(c net.Conn) (net.Conn, error) {
		bound, err := socks5.ClientDial(c, d.auth, address)
		if err != nil {
			return nil, err
		}
		tc := &tunnelConn{Conn: c, r: c}
		if !bound.IP.IsUnspecified() {
			tc.bound = bound
		}
		return tc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}
	return tc, nil
}
