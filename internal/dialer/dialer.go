package dialer

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/minisocks/internal/socks5"
)

// Dialer is what the handshake engine connects through. The LocalAddr of a
// returned conn is reported to the client as the bound address.
type Dialer = socks5.ContextDialer

// scheme describes one --upstream URL scheme.
type scheme struct {
	// defaultPort is applied when the URL has a host but no port. Empty
	// means the scheme takes no host at all.
	defaultPort string
	build       func(cfg Config, u *url.URL, auth socks5.Auth) (Dialer, error)
}

var schemes = map[string]scheme{
	"direct": {
		build: func(cfg Config, _ *url.URL, _ socks5.Auth) (Dialer, error) {
			return NewDirectDialer(cfg), nil
		},
	},
	"http": {
		defaultPort: "80",
		build:       NewHTTPProxyDialer,
	},
	"https": {
		defaultPort: "443",
		build:       NewHTTPProxyDialer,
	},
	"socks5": {
		defaultPort: "1080",
		build: func(cfg Config, u *url.URL, auth socks5.Auth) (Dialer, error) {
			return NewSOCKS5ProxyDialer(cfg, u.Host, auth), nil
		},
	},
}

// New builds the Dialer described by upstream, one of
//
//	direct://
//	http://[user:pass@]host[:port]
//	https://[user:pass@]host[:port]
//	socks5://[user:pass@]host[:port]
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	if u.Scheme == "" {
		return nil, errors.New("invalid upstream: missing scheme")
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("invalid upstream: unexpected path %q", u.Path)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	s, ok := schemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("invalid upstream: unsupported scheme %q", u.Scheme)
	}

	if s.defaultPort != "" {
		if u.Hostname() == "" {
			return nil, fmt.Errorf("invalid upstream: %s needs a host", u.Scheme)
		}
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), s.defaultPort)
		}
	}

	var auth socks5.Auth
	if u.User != nil {
		auth.Username = u.User.Username()
		auth.Password, _ = u.User.Password()
	}

	return s.build(cfg, u, auth)
}
