// Package relay is the rendezvous server: it pairs two peers, assigns colors
// and relays their moves under a server-authoritative board.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/gamestore"
	"github.com/park285/cheese-relay/internal/history"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/internal/wire"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendTimeout      = 5 * time.Second
	persistTimeout          = 5 * time.Second
)

type Options struct {
	Logger *zap.Logger

	// StartFEN, Time and Inc override what the White peer asks for when set.
	StartFEN string
	Time     time.Duration
	Inc      time.Duration

	// TurnTimeout ends the game when the side to move stays silent; zero disables it.
	TurnTimeout      time.Duration
	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	ServeForever     bool

	Store   gamestore.Store
	History history.Repository
}

type Server struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	current *chessdto.GameSnapshot
}

func New(opts Options) *Server {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Store == nil {
		opts.Store = gamestore.NewMemory()
	}
	if opts.History == nil {
		opts.History = history.NewMemory()
	}
	return &Server{opts: opts, logger: obslog.Or(opts.Logger)}
}

// Current returns a copy of the game in progress or the last finished one; nil before the first game.
func (s *Server) Current() *chessdto.GameSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Store exposes the snapshot store for read-only consumers such as the status API.
func (s *Server) Store() gamestore.Store { return s.opts.Store }

func (s *Server) publish(g *chessdto.GameSnapshot) {
	s.mu.Lock()
	s.current = g.Clone()
	s.mu.Unlock()
}

// Serve runs one game, or games back to back when ServeForever is set, until ctx ends.
// Cancelling ctx closes ln. A clean shutdown returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("relay_listen", zap.String("addr", ln.Addr().String()), zap.Bool("serve_forever", s.opts.ServeForever))
	for {
		snap, err := s.ServeGame(ctx, ln)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !s.opts.ServeForever || ctx.Err() != nil {
			s.logger.Info("relay_done", zap.String("game_id", snap.ID))
			return nil
		}
	}
}

// ServeGame pairs the next two peers from ln and plays one game to completion.
func (s *Server) ServeGame(ctx context.Context, ln net.Listener) (*chessdto.GameSnapshot, error) {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	white, black, err := s.pair(ctx, ln)
	if err != nil {
		return nil, err
	}
	g := s.newGame(white, black)
	return g.play(ctx), nil
}

type player struct {
	sess  *session.Session
	start wire.Start
	name  string
	addr  string
	color wire.Color
}

// pair admits peers in arrival order: the first completed handshake is White.
// A peer that fails its handshake is dropped and does not take a slot.
func (s *Server) pair(ctx context.Context, ln net.Listener) (*player, *player, error) {
	var admitted []*player
	abort := func() {
		for _, p := range admitted {
			s.sendBestEffort(p.sess, wire.End{Reason: wire.ReasonAborted})
			_ = p.sess.Close()
		}
	}
	for len(admitted) < 2 {
		conn, err := ln.Accept()
		if err != nil {
			abort()
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("accept: %w", err)
		}
		color := wire.Color(len(admitted))
		p, err := s.handshake(ctx, conn, color)
		if err != nil {
			s.logger.Warn("relay_handshake_failed", zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
			if ctx.Err() != nil {
				abort()
				return nil, nil, ctx.Err()
			}
			continue
		}
		s.logger.Info("relay_peer_admitted",
			zap.String("peer", p.addr),
			zap.String("name", p.name),
			zap.Stringer("color", color),
		)
		admitted = append(admitted, p)
	}
	return admitted[0], admitted[1], nil
}

func (s *Server) handshake(ctx context.Context, conn net.Conn, color wire.Color) (*player, error) {
	addr := conn.RemoteAddr().String()
	sess := session.New(conn, session.Options{Label: addr, Logger: s.logger})
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	msg, err := sess.Receive(hctx)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	st, ok := msg.(wire.Start)
	if !ok {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: %s before start", session.ErrUnexpectedMessage, msg.Kind())
	}
	name := ""
	if st.Name != nil {
		name = strings.TrimSpace(*st.Name)
	}
	if name == "" {
		name = color.String()
	}
	return &player{sess: sess, start: st, name: name, addr: addr, color: color}, nil
}

func (s *Server) sendBestEffort(sess *session.Session, msg wire.Message) {
	if sess.State() == session.StateClosed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()
	if err := sess.Send(ctx, msg); err != nil && !errors.Is(err, session.ErrClosed) {
		s.logger.Debug("relay_send_failed", zap.String("peer", sess.Label()), zap.Stringer("kind", msg.Kind()), zap.Error(err))
	}
}
