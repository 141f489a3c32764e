package proxy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/minisocks/internal/socks5"
)

// Config configures a SOCKS5Server.
type Config struct {
	// NegotiationTimeout bounds the SOCKS5 handshake. Zero disables it.
	NegotiationTimeout time.Duration

	// ReplyOnConnectFailure sends a SOCKS5 failure reply when the
	// destination can't be reached instead of just closing the client.
	ReplyOnConnectFailure bool

	Dialer socks5.ContextDialer

	Logger zerolog.Logger
}
