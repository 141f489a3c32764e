package proxy

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

type failingWriteConn struct {
	net.Conn
}

func (c *failingWriteConn) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}

type relayResult struct {
	stats RelayStats
	err   error
}

func startRelay(ctx context.Context, client, server net.Conn) <-chan relayResult {
	ch := make(chan relayResult, 1)
	go func() {
		stats, err := Relay(ctx, client, server)
		ch <- relayResult{stats, err}
	}()
	return ch
}

func waitRelay(t *testing.T, ch <-chan relayResult) relayResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish")
		return relayResult{}
	}
}

func TestRelayRoundTrip(t *testing.T) {
	t.Parallel()

	clientPeer, clientEnd := net.Pipe()
	serverEnd, serverPeer := net.Pipe()
	client := &countingConn{Conn: clientEnd}
	server := &countingConn{Conn: serverEnd}

	ch := startRelay(context.Background(), client, server)

	up := make([]byte, 64<<10)
	down := make([]byte, 48<<10)
	_, _ = rand.Read(up)
	_, _ = rand.Read(down)

	var g errgroup.Group
	g.Go(func() error {
		_, err := clientPeer.Write(up)
		return err
	})
	g.Go(func() error {
		_, err := serverPeer.Write(down)
		return err
	})

	gotUp := make([]byte, len(up))
	if _, err := io.ReadFull(serverPeer, gotUp); err != nil {
		t.Fatal(err)
	}
	gotDown := make([]byte, len(down))
	if _, err := io.ReadFull(clientPeer, gotDown); err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotUp, up) || !bytes.Equal(gotDown, down) {
		t.Fatal("relayed bytes differ")
	}

	// Client end-of-stream closes the server side, which ends the other
	// direction too.
	_ = clientPeer.Close()
	if _, err := serverPeer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("server peer read err=%v want EOF", err)
	}

	r := waitRelay(t, ch)
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.stats.Upstream != int64(len(up)) || r.stats.Downstream != int64(len(down)) {
		t.Fatalf("stats %+v", r.stats)
	}
	if client.closes.Load() != 1 || server.closes.Load() != 1 {
		t.Fatalf("closes client=%d server=%d want 1 each", client.closes.Load(), server.closes.Load())
	}
	_ = serverPeer.Close()
}

func TestRelayServerCloseEndsClient(t *testing.T) {
	t.Parallel()

	clientPeer, client := net.Pipe()
	server, serverPeer := net.Pipe()
	defer clientPeer.Close()

	ch := startRelay(context.Background(), client, server)

	_ = serverPeer.Close()
	_ = clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientPeer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("client peer read err=%v want EOF", err)
	}

	if r := waitRelay(t, ch); r.err != nil {
		t.Fatal(r.err)
	}
}

func TestRelayWriteErrorTearsDown(t *testing.T) {
	t.Parallel()

	clientPeer, clientEnd := net.Pipe()
	serverEnd, serverPeer := net.Pipe()
	defer serverPeer.Close()
	client := &countingConn{Conn: clientEnd}
	server := &countingConn{Conn: &failingWriteConn{Conn: serverEnd}}

	ch := startRelay(context.Background(), client, server)

	if _, err := clientPeer.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}

	_ = clientPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientPeer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("client peer read err=%v want EOF", err)
	}

	r := waitRelay(t, ch)
	if !errors.Is(r.err, ErrRelayIO) {
		t.Fatalf("err=%v want ErrRelayIO", r.err)
	}
	if client.closes.Load() != 1 || server.closes.Load() != 1 {
		t.Fatalf("closes client=%d server=%d want 1 each", client.closes.Load(), server.closes.Load())
	}
}

func TestRelayContextCancel(t *testing.T) {
	t.Parallel()

	clientPeer, client := net.Pipe()
	server, serverPeer := net.Pipe()
	defer clientPeer.Close()
	defer serverPeer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := startRelay(ctx, client, server)

	cancel()
	if r := waitRelay(t, ch); r.err != nil {
		t.Fatal(r.err)
	}
}

type recordingWriter struct {
	writes  []int
	flushes int
	buf     bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.writes = append(w.writes, len(b))
	return w.buf.Write(b)
}

func (w *recordingWriter) Flush() error {
	w.flushes++
	return nil
}

func TestPumpChunksAndFlushes(t *testing.T) {
	t.Parallel()

	src := make([]byte, 10*ChunkSize+123)
	_, _ = rand.Read(src)

	var w recordingWriter
	n, err := pump(&w, bytes.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(src)) || !bytes.Equal(w.buf.Bytes(), src) {
		t.Fatalf("copied %d bytes, content equal=%v", n, bytes.Equal(w.buf.Bytes(), src))
	}
	for _, size := range w.writes {
		if size > ChunkSize {
			t.Fatalf("write of %d bytes exceeds chunk size", size)
		}
	}
	if w.flushes != len(w.writes) {
		t.Fatalf("%d flushes for %d writes", w.flushes, len(w.writes))
	}
}

type shortWriter struct{}

func (shortWriter) Write(b []byte) (int, error) {
	return len(b) / 2, nil
}

func TestPumpShortWrite(t *testing.T) {
	t.Parallel()

	if _, err := pump(shortWriter{}, bytes.NewReader([]byte("hello"))); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err=%v want ErrShortWrite", err)
	}
}
