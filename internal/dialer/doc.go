// Package dialer provides the outbound connect primitive used by minisocks.
//
// Dialers implement a small interface (DialContext) and are used by the
// SOCKS5 server to reach the requested destination, either directly or via an
// upstream proxy (HTTP CONNECT or SOCKS5). Name resolution is the dialer's
// job: the direct dialer uses the system resolver unless a Resolver pointing
// at a specific nameserver is configured.
package dialer
