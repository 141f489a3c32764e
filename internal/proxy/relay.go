package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ChunkSize is the most a relay direction reads before writing. It is sized
// to a typical network MTU.
const ChunkSize = 1500

// ErrRelayIO wraps a read or write failure in one relay direction.
var ErrRelayIO = errors.New("relay i/o error")

// RelayStats counts bytes relayed in each direction.
type RelayStats struct {
	// Upstream is client to server.
	Upstream int64
	// Downstream is server to client.
	Downstream int64
}

// Relay copies bytes between client and server in both directions until both
// directions have finished, then returns with both streams closed.
//
// Each direction ends at end-of-stream or on error and then closes the
// stream it was writing to, which in turn ends the opposite direction.
// Canceling ctx closes both streams. Errors are logged per direction via the
// zerolog.Logger in ctx; the first one is returned wrapped in ErrRelayIO.
func Relay(ctx context.Context, client, server net.Conn) (RelayStats, error) {
	log := zerolog.Ctx(ctx)

	closeClient := closeOnce(client)
	closeServer := closeOnce(server)
	defer closeClient()
	defer closeServer()

	stop := context.AfterFunc(ctx, func() {
		closeClient()
		closeServer()
	})
	defer stop()

	var (
		stats RelayStats
		g     errgroup.Group
	)

	g.Go(func() error {
		n, err := pump(server, client)
		stats.Upstream = n
		closeServer()
		if err != nil {
			log.Debug().Err(err).Str("direction", "upstream").Msg("relay direction failed")
			return fmt.Errorf("%w: client to server: %w", ErrRelayIO, err)
		}
		return nil
	})

	g.Go(func() error {
		n, err := pump(client, server)
		stats.Downstream = n
		closeClient()
		if err != nil {
			log.Debug().Err(err).Str("direction", "downstream").Msg("relay direction failed")
			return fmt.Errorf("%w: server to client: %w", ErrRelayIO, err)
		}
		return nil
	})

	err := g.Wait()
	return stats, err
}

// pump copies src to dst one chunk at a time, flushing dst after every write
// if it buffers. It returns nil at end-of-stream, including when src was
// closed locally because the opposite direction finished.
func pump(dst io.Writer, src io.Reader) (int64, error) {
	bp := getChunk()
	defer putChunk(bp)
	buf := *bp

	flusher, _ := dst.(interface{ Flush() error })

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			if flusher != nil {
				if err := flusher.Flush(); err != nil {
					return written, err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, net.ErrClosed) || errors.Is(rerr, io.ErrClosedPipe) {
				return written, nil
			}
			return written, rerr
		}
	}
}

func closeOnce(c io.Closer) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = c.Close()
		})
	}
}
