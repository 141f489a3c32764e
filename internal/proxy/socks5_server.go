package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/minisocks/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 clients and relays each one to its requested
// destination. Sessions are independent; each runs in its own goroutine.
type SOCKS5Server struct {
	ctx    context.Context
	log    zerolog.Logger
	engine *socks5.Engine

	active atomic.Int64
	wg     sync.WaitGroup
}

// NewSOCKS5Server returns a server dialing destinations with cfg.Dialer.
// Canceling ctx tears down every live session.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SOCKS5Server{
		ctx: ctx,
		log: cfg.Logger,
		engine: &socks5.Engine{
			Dialer:                cfg.Dialer,
			NegotiationTimeout:    cfg.NegotiationTimeout,
			ReplyOnConnectFailure: cfg.ReplyOnConnectFailure,
		},
	}
}

// Serve accepts connections on ln until it is closed. It returns nil if ln
// was closed because the server's context was canceled.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if s.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}

			// Usually running out of file descriptors; keep serving.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Error().Err(err).Dur("retry", backoff).Msg("accept failed")
			select {
			case <-time.After(backoff):
				continue
			case <-s.ctx.Done():
				return nil
			}
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

// Wait blocks until every session started by Serve has finished.
func (s *SOCKS5Server) Wait() {
	s.wg.Wait()
}

// ActiveSessions reports the number of sessions whose streams are still open.
func (s *SOCKS5Server) ActiveSessions() int64 {
	return s.active.Load()
}

func (s *SOCKS5Server) handleConn(conn net.Conn) {
	s.active.Add(1)
	defer s.active.Add(-1)

	log := s.log.With().
		Str("session", uuid.NewString()).
		Stringer("client", conn.RemoteAddr()).
		Logger()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	ctx = log.WithContext(ctx)

	// The handshake blocks on reads that ctx alone can't interrupt.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	sess, err := s.engine.Handshake(ctx, conn)
	stop()
	if err != nil {
		log.Debug().Err(err).Msg("handshake failed")
		return
	}

	log.Info().
		Str("dst", sess.Request.Address()).
		Stringer("bound", sess.Bound).
		Msg("session established")

	start := time.Now()
	stats, err := Relay(ctx, sess.Client, sess.Server)
	log.Info().
		Int64("up", stats.Upstream).
		Int64("down", stats.Downstream).
		Dur("duration", time.Since(start)).
		AnErr("relay_err", err).
		Msg("session closed")
}
