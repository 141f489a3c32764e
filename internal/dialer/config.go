package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// Resolver, if set, resolves domain names for direct dials instead of
	// the system resolver.
	Resolver *Resolver
}
