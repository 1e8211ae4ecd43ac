// Package session wraps one peer byte stream with message-level send/receive
// and the Connecting → Handshaking → Active → Closed lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/wire"
	"go.uber.org/zap"
)

// State is the session lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrClosed            = errors.New("session closed")
	ErrWouldBlock        = errors.New("no complete frame ready")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrBlockingMode      = errors.New("session is in blocking mode")
)

// IOError is a stream read or write failure. The session is closed when one is returned.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "session " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

type Options struct {
	// Label identifies the session in logs, e.g. the remote address.
	Label     string
	Logger    *zap.Logger
	QueueSize int
	ReadSize  int
}

const (
	defaultQueueSize = 16
	defaultReadSize  = 512
)

// Session owns one stream. Receive/TryReceive/Activate belong to a single owner
// goroutine; Send and Close may be called from any goroutine.
type Session struct {
	conn   net.Conn
	label  string
	logger *zap.Logger

	state     atomic.Int32
	color     atomic.Int32
	startSeen bool
	lastErr   error

	dec     wire.Decoder
	rbuf    []byte
	readErr error

	queueSize int
	queue     chan inbound

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

type inbound struct {
	msg wire.Message
	err error
}

// New wraps an established stream; the session starts in Handshaking.
func New(conn net.Conn, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	label := opts.Label
	if label == "" && conn.RemoteAddr() != nil {
		label = conn.RemoteAddr().String()
	}
	s := &Session{
		conn:      conn,
		label:     label,
		logger:    obslog.Or(opts.Logger),
		rbuf:      make([]byte, opts.ReadSize),
		queueSize: opts.QueueSize,
		closed:    make(chan struct{}),
	}
	s.state.Store(int32(StateHandshaking))
	s.color.Store(-1)
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Label() string { return s.label }

// Color returns the assigned side; ok is false before Activate.
func (s *Session) Color() (wire.Color, bool) {
	c := s.color.Load()
	if c < 0 {
		return 0, false
	}
	return wire.Color(c), true
}

// Activate completes the handshake. A Start must have been received first.
func (s *Session) Activate(c wire.Color) error {
	if !c.Valid() {
		return fmt.Errorf("activate: invalid color %d", c)
	}
	if !s.startSeen {
		return fmt.Errorf("%w: activate before start received", ErrUnexpectedMessage)
	}
	if !s.state.CompareAndSwap(int32(StateHandshaking), int32(StateActive)) {
		return fmt.Errorf("activate in state %s", s.State())
	}
	s.color.Store(int32(c))
	s.logger.Debug("session_active", zap.String("peer", s.label), zap.Stringer("color", c))
	return nil
}

// Send writes one whole frame.
func (s *Session) Send(ctx context.Context, msg wire.Message) error {
	st := s.State()
	if st == StateClosed {
		return ErrClosed
	}
	switch msg.Kind() {
	case wire.KindMove:
		if st != StateActive {
			return fmt.Errorf("%w: send move while %s", ErrUnexpectedMessage, st)
		}
	case wire.KindStart:
		if st != StateHandshaking {
			return fmt.Errorf("%w: send start while %s", ErrUnexpectedMessage, st)
		}
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := writeFull(s.conn, frame); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		ioErr := &IOError{Op: "write", Err: err}
		s.closeWith(ioErr)
		return ioErr
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// Receive blocks until one message arrives. Cancelling ctx interrupts the read
// without closing the session; any partial frame stays buffered.
func (s *Session) Receive(ctx context.Context) (wire.Message, error) {
	if s.queue != nil {
		select {
		case in, ok := <-s.queue:
			return s.accept(in, ok)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.isClosed() {
		return nil, s.terminalErr()
	}
	msg, err := s.readFrame(ctx)
	if err != nil {
		if (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && !s.isClosed() {
			return nil, err
		}
		return nil, s.fail(err)
	}
	return s.admit(msg)
}

// EnableNonBlocking moves reading to a background goroutine so TryReceive can poll.
func (s *Session) EnableNonBlocking() {
	if s.queue != nil {
		return
	}
	s.queue = make(chan inbound, s.queueSize)
	go s.pump()
}

// TryReceive returns ErrWouldBlock when no complete frame is ready.
func (s *Session) TryReceive() (wire.Message, error) {
	if s.queue == nil {
		return nil, ErrBlockingMode
	}
	select {
	case in, ok := <-s.queue:
		return s.accept(in, ok)
	default:
		return nil, ErrWouldBlock
	}
}

// Close shuts the stream down, unblocking any pending read. It is idempotent.
func (s *Session) Close() error {
	return s.closeWith(nil)
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) closeWith(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
		err = s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		fields := []zap.Field{zap.String("peer", s.label)}
		if cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		s.logger.Debug("session_closed", fields...)
	})
	return err
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) pump() {
	defer close(s.queue)
	for {
		msg, err := s.readFrame(context.Background())
		in := inbound{msg: msg, err: err}
		select {
		case s.queue <- in:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// readFrame fills the decoder from the stream until one frame decodes.
func (s *Session) readFrame(ctx context.Context) (wire.Message, error) {
	if ctx.Done() != nil {
		if dl, ok := ctx.Deadline(); ok {
			_ = s.conn.SetReadDeadline(dl)
		}
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			defer close(fired)
			_ = s.conn.SetReadDeadline(time.Unix(1, 0))
		})
		defer func() {
			if !stop() {
				<-fired
			}
			_ = s.conn.SetReadDeadline(time.Time{})
		}()
	}
	for {
		msg, err := s.dec.Next()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, wire.ErrIncomplete) {
			return nil, err
		}
		if s.readErr != nil {
			return nil, s.readErr
		}
		n, rerr := s.conn.Read(s.rbuf)
		if n > 0 {
			s.dec.Feed(s.rbuf[:n])
		}
		if rerr != nil {
			var ne net.Error
			if errors.As(rerr, &ne) && ne.Timeout() && ctx.Done() != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, context.DeadlineExceeded
			}
			s.readErr = rerr
		}
	}
}

func (s *Session) accept(in inbound, ok bool) (wire.Message, error) {
	if !ok {
		return nil, s.terminalErr()
	}
	if in.err != nil {
		return nil, s.fail(in.err)
	}
	return s.admit(in.msg)
}

// admit enforces message order: one Start while handshaking, Moves only once active.
func (s *Session) admit(msg wire.Message) (wire.Message, error) {
	st := s.State()
	switch msg.Kind() {
	case wire.KindStart:
		if st != StateHandshaking || s.startSeen {
			return nil, s.fail(fmt.Errorf("%w: start while %s", ErrUnexpectedMessage, st))
		}
		s.startSeen = true
	case wire.KindMove:
		if st != StateActive {
			return nil, s.fail(fmt.Errorf("%w: move while %s", ErrUnexpectedMessage, st))
		}
	}
	return msg, nil
}

// fail classifies a receive error, closes the session and remembers the error.
func (s *Session) fail(err error) error {
	switch {
	case s.isClosed() && s.lastErr == nil && !errors.Is(err, ErrUnexpectedMessage):
		s.lastErr = ErrClosed
	case errors.Is(err, io.EOF):
		s.lastErr = io.EOF
	case errors.Is(err, wire.ErrMalformed), errors.Is(err, ErrUnexpectedMessage):
		s.lastErr = err
	case errors.Is(err, ErrClosed):
		s.lastErr = ErrClosed
	default:
		s.lastErr = &IOError{Op: "read", Err: err}
	}
	s.closeWith(s.lastErr)
	return s.lastErr
}

func (s *Session) terminalErr() error {
	if s.lastErr != nil {
		return s.lastErr
	}
	return ErrClosed
}
