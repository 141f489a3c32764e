// Package proxy implements the minisocks listener side: the SOCKS5 accept
// loop, per-session lifecycle, and the bidirectional relay that runs once a
// handshake completes.
package proxy
