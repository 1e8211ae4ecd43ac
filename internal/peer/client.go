// Package peer is the client side of the relay: it dials the rendezvous
// server, completes the handshake and keeps an advisory copy of the game.
//
// A Client is owned by one goroutine (the UI loop). The board only changes
// when the server echoes a move back; nothing is applied optimistically.
package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/arbiter"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/internal/transport"
	"github.com/park285/cheese-relay/internal/wire"
)

var (
	// ErrMovePending is returned while an earlier move still awaits the server echo.
	ErrMovePending = errors.New("move pending")
	// ErrEndedBeforeStart means the server closed the game during the handshake.
	ErrEndedBeforeStart = errors.New("game ended before start")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendTimeout      = 5 * time.Second
)

type Config struct {
	Addr      string
	Transport string
	Name      string

	// FEN, Time and Inc are requests; the server has the final say.
	FEN  string
	Time time.Duration
	Inc  time.Duration

	// HandshakeTimeout bounds the wait for the server's Start, which only
	// arrives once an opponent has joined. Negative waits until ctx ends.
	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	Logger           *zap.Logger

	// Connected, when set, runs once our Start is on the wire.
	Connected func()
}

type EventKind int

const (
	EventMoved EventKind = iota + 1
	EventDrawOffered
	EventGameOver
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventMoved:
		return "moved"
	case EventDrawOffered:
		return "draw_offered"
	case EventGameOver:
		return "game_over"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is what Poll reports. Move/By/SAN are set for EventMoved, By for
// EventDrawOffered, Reason/Winner for EventGameOver and Err for EventConnectionLost.
type Event struct {
	Kind   EventKind
	Move   wire.Move
	By     wire.Color
	SAN    string
	Reason wire.Reason
	Winner *wire.Color
	Err    error
}

type Client struct {
	sess   *session.Session
	logger *zap.Logger

	color    wire.Color
	opponent string
	start    wire.Start

	board *rules.Board
	arb   *arbiter.Arbiter

	pending     bool
	over        bool
	sendTimeout time.Duration
}

// Dial connects, sends our Start and blocks until the server pairs us and answers with its own.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	logger := obslog.Or(cfg.Logger)

	conn, err := transport.Dial(ctx, cfg.Transport, cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	sess := session.New(conn, session.Options{Label: cfg.Addr, Logger: logger})

	st := wire.Start{}
	if name := strings.TrimSpace(cfg.Name); name != "" {
		st.Name = wire.Opt(name)
	}
	if fen := strings.TrimSpace(cfg.FEN); fen != "" {
		st.FEN = wire.Opt(fen)
	}
	if cfg.Time > 0 {
		st.Time = wire.Opt(cfg.Time)
		st.Inc = wire.Opt(cfg.Inc)
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err = sess.Send(sctx, st)
	cancel()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("send start: %w", err)
	}
	if cfg.Connected != nil {
		cfg.Connected()
	}

	msg, err := awaitStart(ctx, sess, cfg.HandshakeTimeout)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("await start: %w", err)
	}
	var reply wire.Start
	switch m := msg.(type) {
	case wire.Start:
		reply = m
	case wire.End:
		_ = sess.Close()
		return nil, fmt.Errorf("%w: %s", ErrEndedBeforeStart, m.Reason)
	default:
		_ = sess.Close()
		return nil, fmt.Errorf("%w: %s before start", session.ErrUnexpectedMessage, msg.Kind())
	}

	fen := ""
	if reply.FEN != nil {
		fen = *reply.FEN
	}
	board, err := rules.NewBoard(fen)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("server start position: %w", err)
	}
	color := wire.Black
	if reply.IsWhite {
		color = wire.White
	}
	if err := sess.Activate(color); err != nil {
		_ = sess.Close()
		return nil, err
	}
	sess.EnableNonBlocking()

	c := &Client{
		sess:        sess,
		logger:      logger.With(zap.Stringer("color", color)),
		color:       color,
		start:       reply,
		board:       board,
		arb:         arbiter.New(board.SideToMove()),
		sendTimeout: cfg.SendTimeout,
	}
	if reply.Name != nil {
		c.opponent = *reply.Name
	}
	c.logger.Info("peer_started", zap.String("opponent", c.opponent), zap.String("fen", board.StartFEN()))
	return c, nil
}

func awaitStart(ctx context.Context, sess *session.Session, timeout time.Duration) (wire.Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sess.Receive(ctx)
}

// Submit sends a board move after checking turn, pending state and legality locally.
// A missing promotion on a pawn reaching the last rank defaults to a queen.
func (c *Client) Submit(from, to wire.Position, promo wire.PieceKind) error {
	if c.over {
		return arbiter.ErrGameOver
	}
	if c.pending {
		return ErrMovePending
	}
	m := wire.Move{From: from, To: to, Promotion: promo}
	if err := c.arb.Check(m, c.color); err != nil {
		return err
	}
	if !c.board.Legal(from, to, promo) {
		if promo != wire.NoPiece || !c.board.Legal(from, to, wire.Queen) {
			return fmt.Errorf("%w: %s", rules.ErrIllegalMove, m)
		}
		m.Promotion = wire.Queen
	}
	if err := c.send(m); err != nil {
		return err
	}
	c.pending = true
	return nil
}

// Forfeit concedes the game. The server answers with the echo and an End.
func (c *Client) Forfeit() error {
	if c.over {
		return arbiter.ErrGameOver
	}
	return c.send(wire.Move{Forfeit: true})
}

// OfferDraw offers a draw, or accepts one the opponent has offered. Our own
// offer is not echoed back.
func (c *Client) OfferDraw() error {
	if c.over {
		return arbiter.ErrGameOver
	}
	if c.pending {
		return ErrMovePending
	}
	return c.send(wire.Move{OfferDraw: true})
}

func (c *Client) send(m wire.Move) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()
	if err := c.sess.Send(ctx, m); err != nil {
		return fmt.Errorf("send %s: %w", m, err)
	}
	return nil
}

// Poll drains every message already received without blocking.
func (c *Client) Poll() []Event {
	var events []Event
	for {
		msg, err := c.sess.TryReceive()
		if errors.Is(err, session.ErrWouldBlock) {
			return events
		}
		if err != nil {
			if !c.over {
				c.over = true
				c.logger.Info("peer_connection_lost", zap.Error(err))
				events = append(events, Event{Kind: EventConnectionLost, Err: err})
			}
			return events
		}
		switch m := msg.(type) {
		case wire.Move:
			if ev, ok := c.onMove(m); ok {
				events = append(events, ev)
			}
		case wire.End:
			c.over = true
			c.pending = false
			v := c.arb.End(m.Reason, m.Winner)
			c.logger.Info("peer_game_over", zap.Stringer("reason", v.Reason))
			events = append(events, Event{Kind: EventGameOver, Reason: m.Reason, Winner: m.Winner})
		}
		if c.over {
			return events
		}
	}
}

func (c *Client) onMove(m wire.Move) (Event, bool) {
	switch {
	case m.Forfeit:
		// the End that follows carries the result
		return Event{}, false
	case m.OfferDraw:
		// the server only forwards the opponent's offers
		by := c.color.Opponent()
		c.arb.Commit(m, by)
		return Event{Kind: EventDrawOffered, By: by}, true
	}

	mover := c.arb.Current()
	if err := c.board.ApplyMove(m); err != nil {
		// the server validated this move, so our copy has drifted
		c.over = true
		c.logger.Warn("peer_desync", zap.Stringer("move", m), zap.String("fen", c.board.FEN()), zap.Error(err))
		_ = c.sess.Close()
		return Event{Kind: EventConnectionLost, Err: err}, true
	}
	c.arb.Commit(m, mover)
	if mover == c.color {
		c.pending = false
	}
	san := c.board.MovesSAN()
	return Event{Kind: EventMoved, Move: m, By: mover, SAN: san[len(san)-1]}, true
}

func (c *Client) Pieces() []rules.Piece { return c.board.Pieces() }

func (c *Client) Color() wire.Color { return c.color }

func (c *Client) SideToMove() wire.Color { return c.arb.Current() }

func (c *Client) State() session.State { return c.sess.State() }

func (c *Client) Opponent() string { return c.opponent }

// Start returns the server's Start, which carries the agreed position and time control.
func (c *Client) Start() wire.Start { return c.start }

func (c *Client) Pending() bool { return c.pending }

func (c *Client) Over() bool { return c.over }

// MyTurn reports whether a board move from us would be accepted right now.
func (c *Client) MyTurn() bool { return !c.over && c.arb.Current() == c.color }

func (c *Client) Board() *rules.Board { return c.board }

func (c *Client) Close() error { return c.sess.Close() }
