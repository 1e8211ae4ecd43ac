// Package transport opens the byte streams sessions run over: plain TCP, or
// websocket binary messages carried through websocket.NetConn.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/wire"
)

const (
	TCP = "tcp"
	WS  = "ws"

	// WSPath is where the websocket listener upgrades connections.
	WSPath = "/relay"
)

var ErrUnknownTransport = errors.New("unknown transport")

// Listen opens a listener for kind ("tcp" or "ws") on addr.
func Listen(kind, addr string) (net.Listener, error) {
	switch strings.ToLower(kind) {
	case "", TCP:
		return net.Listen("tcp", addr)
	case WS:
		return listenWS(addr, obslog.L())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// Dial connects to a relay listening with the same kind.
func Dial(ctx context.Context, kind, addr string) (net.Conn, error) {
	switch strings.ToLower(kind) {
	case "", TCP:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	case WS:
		c, _, err := websocket.Dial(ctx, "ws://"+addr+WSPath, &websocket.DialOptions{
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			return nil, fmt.Errorf("ws dial %s: %w", addr, err)
		}
		c.SetReadLimit(int64(wire.HeaderSize + wire.MaxPayload))
		// the conn outlives ctx, which only bounds the dial
		return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// wsListener adapts an HTTP upgrade endpoint to net.Listener so the relay
// accepts websocket peers exactly like TCP ones.
type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	conns  chan net.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger *zap.Logger
}

func listenWS(addr string, logger *zap.Logger) (*wsListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &wsListener{
		ln:     ln,
		conns:  make(chan net.Conn),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, l.upgrade)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Warn("ws_serve_error", zap.Error(err))
		}
	}()
	return l, nil
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		l.logger.Debug("ws_upgrade_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	c.SetReadLimit(int64(wire.HeaderSize + wire.MaxPayload))
	// r.Context() ends when this handler returns and l.ctx when the listener
	// closes; a game in progress must survive both
	nc := websocket.NetConn(context.Background(), c, websocket.MessageBinary)
	select {
	case l.conns <- nc:
	case <-l.ctx.Done():
		_ = c.Close(websocket.StatusGoingAway, "listener closed")
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }
