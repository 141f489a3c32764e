package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver looks up IPv4 addresses against a single nameserver.
type Resolver struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewResolver returns a Resolver querying server (host:port). A zero timeout
// uses the dns package default.
func NewResolver(server string, timeout time.Duration) (*Resolver, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		return nil, fmt.Errorf("dns server %q: %w", server, err)
	}
	return &Resolver{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}, nil
}

// LookupIPv4 returns the A records for host. Errors are *net.DNSError.
func (r *Resolver) LookupIPv4(ctx context.Context, host string) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := r.udp.ExchangeContext(ctx, m, r.server)
	if err == nil && in.Truncated {
		in, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		var netErr net.Error
		return nil, &net.DNSError{
			Err:       err.Error(),
			Name:      host,
			Server:    r.server,
			IsTimeout: errors.As(err, &netErr) && netErr.Timeout(),
		}
	}

	if in.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{
			Err:        dns.RcodeToString[in.Rcode],
			Name:       host,
			Server:     r.server,
			IsNotFound: in.Rcode == dns.RcodeNameError,
		}
	}

	var ips []net.IP
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no A records", Name: host, Server: r.server, IsNotFound: true}
	}
	return ips, nil
}

// ResolveAddr replaces the host in address with its first IPv4 address.
// Addresses that already carry an IP literal are returned unchanged.
func (r *Resolver) ResolveAddr(ctx context.Context, address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return address, nil
	}

	ips, err := r.LookupIPv4(ctx, host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ips[0].String(), port), nil
}
