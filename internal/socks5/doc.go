// Package socks5 implements the server side of the SOCKS5 handshake used by
// minisocks, plus a small client used when chaining through an upstream
// SOCKS5 proxy.
//
// The server side is deliberately minimal: only the "no authentication"
// method is offered, and only CONNECT is serviced. BIND and UDP ASSOCIATE are
// parsed, logged and then treated as CONNECT. Only IPv4 and domain-name
// destinations are accepted.
//
// Wire encoding lives in codec.go and is free of policy; the state machine in
// handshake.go drives a client stream from its first byte to a pair of
// connected streams ready for relaying.
package socks5
