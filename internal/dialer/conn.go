package dialer

import (
	"context"
	"io"
	"net"
	"time"
)

// tunnelConn is a stream opened through an upstream proxy.
type tunnelConn struct {
	net.Conn

	// r holds anything the proxy sent past its handshake reply.
	r io.Reader
	// bound overrides LocalAddr when the proxy reported a usable address.
	bound net.Addr
}

func (c *tunnelConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *tunnelConn) LocalAddr() net.Addr {
	if c.bound != nil {
		return c.bound
	}
	return c.Conn.LocalAddr()
}

// negotiate runs fn on c under cfg.NegotiationTimeout, aborting it if ctx is
// canceled. c is closed on failure and its deadline cleared on success.
func negotiate(ctx context.Context, cfg Config, c net.Conn, fn func(net.Conn) (net.Conn, error)) (net.Conn, error) {
	if cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	tc, err := fn(c)
	if !stop() && err == nil {
		// ctx fired after fn finished; its deadline is still set.
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	_ = c.SetDeadline(time.Time{})
	return tc, nil
}
