package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/wire"
)

func roundTrip(t *testing.T, kind string) {
	t.Helper()
	ln, err := Listen(kind, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen(%s): %v", kind, err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := Dial(ctx, kind, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial(%s): %v", kind, err)
	}
	defer client.Close()

	var server net.Conn
	select {
	case server = <-accepted:
		if server == nil {
			t.Fatalf("Accept failed")
		}
	case <-ctx.Done():
		t.Fatalf("no connection accepted")
	}
	defer server.Close()

	frame, _ := wire.Encode(wire.Move{From: wire.Position{X: 4, Y: 1}, To: wire.Position{X: 4, Y: 3}})
	go func() { _, _ = client.Write(frame) }()
	got := make([]byte, len(frame))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := wire.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.(wire.Move).To != (wire.Position{X: 4, Y: 3}) {
		t.Fatalf("unexpected %v", msg)
	}
}

func TestTCPRoundTrip(t *testing.T) { roundTrip(t, TCP) }

func TestWSRoundTrip(t *testing.T) { roundTrip(t, WS) }

func TestWSListenerCloseUnblocksAccept(t *testing.T) {
	ln, err := Listen(WS, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = ln.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("expected net.ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Accept still blocked")
	}
}

func TestUnknownTransport(t *testing.T) {
	if _, err := Listen("udp", "127.0.0.1:0"); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
	if _, err := Dial(context.Background(), "quic", "127.0.0.1:1"); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}
