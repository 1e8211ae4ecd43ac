package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/arbiter"
	"github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/internal/wire"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

var errPeerLeft = errors.New("peer sent end")

type failure struct {
	color wire.Color
	err   error
}

// game is owned by the goroutine running play; only the readers touch the sessions' read side.
type game struct {
	s      *Server
	id     string
	logger *zap.Logger

	players [2]*player
	board   *rules.Board
	arb     *arbiter.Arbiter
	clock   *arbiter.Clock
	base    time.Duration
	inc     time.Duration

	inbox  [2]chan wire.Move
	down   [2]atomic.Bool
	failed chan failure
	done   chan struct{}
	wg     sync.WaitGroup

	turnStarted time.Time
	snap        *chessdto.GameSnapshot
}

func (s *Server) newGame(white, black *player) *game {
	id := uuid.NewString()
	g := &game{
		s:       s,
		id:      id,
		logger:  s.logger.With(zap.String("game_id", id)),
		players: [2]*player{white, black},
		inbox:   [2]chan wire.Move{make(chan wire.Move, 1), make(chan wire.Move, 1)},
		failed:  make(chan failure, 2),
		done:    make(chan struct{}),
	}

	fen := s.opts.StartFEN
	if fen == "" && white.start.FEN != nil {
		fen = *white.start.FEN
	}
	board, err := rules.NewBoard(fen)
	if err != nil {
		g.logger.Warn("relay_bad_fen", zap.String("fen", fen), zap.Error(err))
		board, _ = rules.NewBoard("")
	}
	g.board = board

	g.base, g.inc = s.opts.Time, s.opts.Inc
	if g.base <= 0 && white.start.Time != nil {
		g.base = *white.start.Time
		g.inc = 0
		if white.start.Inc != nil {
			g.inc = *white.start.Inc
		}
	}
	first := board.SideToMove()
	g.arb = arbiter.New(first)
	g.clock = arbiter.NewClock(g.base, g.inc, first)
	return g
}

// play runs the game to its end and returns the final snapshot.
func (g *game) play(ctx context.Context) *chessdto.GameSnapshot {
	now := time.Now()
	g.snap = &chessdto.GameSnapshot{
		ID:        g.id,
		StartFEN:  g.board.StartFEN(),
		FEN:       g.board.FEN(),
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		Status:    chessdto.StatusActive,
		WhiteName: g.players[wire.White].name,
		BlackName: g.players[wire.Black].name,
		WhiteAddr: g.players[wire.White].addr,
		BlackAddr: g.players[wire.Black].addr,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if g.clock != nil {
		g.snap.TimeControl = config.FormatTimeControl(g.base, g.inc)
	}

	for _, c := range []wire.Color{wire.White, wire.Black} {
		if err := g.sendStart(c); err != nil {
			g.logger.Warn("relay_start_failed", zap.Stringer("color", c), zap.Error(err))
			return g.finish(g.disconnectReason(err), wire.Opt(c.Opponent()))
		}
	}
	g.logger.Info("relay_game_start",
		zap.String("white", g.snap.WhiteName),
		zap.String("black", g.snap.BlackName),
		zap.String("fen", g.snap.StartFEN),
		zap.String("time_control", g.snap.TimeControl),
	)

	g.turnStarted = time.Now()
	g.clock.Start(g.turnStarted)
	g.save()

	g.wg.Add(2)
	go g.read(wire.White)
	go g.read(wire.Black)

	for {
		timer, expired := g.deadlineTimer()
		over, reason, winner := g.step(ctx, expired)
		if timer != nil {
			timer.Stop()
		}
		if over {
			return g.finish(reason, winner)
		}
	}
}

// step waits for the next event. Pending failures win over queued moves, and the
// idle side is drained before the mover so a move sent out of turn is judged as such.
func (g *game) step(ctx context.Context, expired <-chan time.Time) (over bool, reason wire.Reason, winner *wire.Color) {
	select {
	case f := <-g.failed:
		return g.lost(f)
	default:
	}
	idle := g.arb.Current().Opponent()
	select {
	case m := <-g.inbox[idle]:
		return g.accept(idle, m)
	default:
	}

	select {
	case <-ctx.Done():
		return true, wire.ReasonAborted, nil
	case f := <-g.failed:
		return g.lost(f)
	case m := <-g.inbox[wire.White]:
		return g.accept(wire.White, m)
	case m := <-g.inbox[wire.Black]:
		return g.accept(wire.Black, m)
	case <-expired:
		mover := g.arb.Current()
		g.logger.Info("relay_timeout", zap.Stringer("color", mover))
		return true, wire.ReasonTimeout, wire.Opt(mover.Opponent())
	}
}

func (g *game) lost(f failure) (bool, wire.Reason, *wire.Color) {
	g.logger.Info("relay_peer_lost", zap.Stringer("color", f.color), zap.Error(f.err))
	return true, g.disconnectReason(f.err), wire.Opt(f.color.Opponent())
}

// accept hands m to handle unless its sender has already failed.
func (g *game) accept(c wire.Color, m wire.Move) (bool, wire.Reason, *wire.Color) {
	if g.down[c].Load() {
		g.logger.Info("relay_dropped_after_loss", zap.Stringer("color", c), zap.Stringer("move", m))
		return false, 0, nil
	}
	return g.handle(c, m)
}

func (g *game) sendStart(c wire.Color) error {
	p, opp := g.players[c], g.players[c.Opponent()]
	st := wire.Start{IsWhite: c == wire.White, Name: wire.Opt(opp.name)}
	if g.board.StartFEN() != rules.StandardFEN {
		st.FEN = wire.Opt(g.board.StartFEN())
	}
	if g.clock != nil {
		st.Time = wire.Opt(g.base)
		st.Inc = wire.Opt(g.inc)
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.s.opts.SendTimeout)
	defer cancel()
	if err := p.sess.Send(ctx, st); err != nil {
		return err
	}
	return p.sess.Activate(c)
}

// read is the per-session worker: blocking receives handed to the arbitration loop.
func (g *game) read(c wire.Color) {
	defer g.wg.Done()
	sess := g.players[c].sess
	for {
		msg, err := sess.Receive(context.Background())
		if err != nil {
			g.fail(c, err)
			return
		}
		switch m := msg.(type) {
		case wire.Move:
			select {
			case g.inbox[c] <- m:
				g.logger.Debug("relay_queued", zap.Stringer("color", c), zap.Stringer("move", m))
			default:
				// only one pending message per side is meaningful
				err := fmt.Errorf("%w: second message queued before the first was handled", session.ErrUnexpectedMessage)
				g.logger.Info("relay_inbox_overflow", zap.Stringer("color", c), zap.Stringer("move", m))
				_ = sess.Close()
				g.fail(c, err)
				return
			}
		case wire.End:
			g.fail(c, errPeerLeft)
			return
		}
	}
}

// fail marks c as down and drops its unhandled move before reporting, so
// nothing c queued is relayed after the failure.
func (g *game) fail(c wire.Color, err error) {
	g.down[c].Store(true)
	select {
	case m := <-g.inbox[c]:
		g.logger.Info("relay_dropped_after_loss", zap.Stringer("color", c), zap.Stringer("move", m))
	default:
	}
	select {
	case g.failed <- failure{color: c, err: err}:
	case <-g.done:
	}
}

// handle applies one message from c. Rule-level rejections are logged and dropped.
func (g *game) handle(c wire.Color, m wire.Move) (over bool, reason wire.Reason, winner *wire.Color) {
	log := g.logger.With(zap.Stringer("color", c), zap.Stringer("move", m))
	if err := g.arb.Check(m, c); err != nil {
		log.Info("relay_wrong_turn", zap.Error(err))
		return false, 0, nil
	}

	switch {
	case m.Forfeit:
		v := g.arb.Commit(m, c)
		log.Info("relay_forfeit")
		g.broadcast(m)
		return true, v.Reason, v.Winner
	case m.OfferDraw:
		v := g.arb.Commit(m, c)
		log.Info("relay_draw_offer", zap.Bool("agreed", v.Over))
		// offers go to the other side only, so a received offer is always the opponent's
		g.sendTo(c.Opponent(), m)
		if v.Over {
			return true, v.Reason, nil
		}
		g.save()
		return false, 0, nil
	}

	if !g.board.Legal(m.From, m.To, m.Promotion) {
		log.Info("relay_illegal_move", zap.String("fen", g.board.FEN()))
		return false, 0, nil
	}
	now := time.Now()
	if g.clock.Switch(now) {
		log.Info("relay_flag")
		return true, wire.ReasonTimeout, wire.Opt(c.Opponent())
	}
	if err := g.board.ApplyMove(m); err != nil {
		log.Warn("relay_apply_failed", zap.Error(err))
		return false, 0, nil
	}
	g.arb.Commit(m, c)
	g.turnStarted = now
	log.Info("relay_move", zap.Int("ply", g.arb.Plies()))
	g.broadcast(m)
	g.save()

	if out := g.board.Outcome(); out.Over {
		log.Info("relay_board_over", zap.String("method", out.Method))
		return true, out.Reason, out.Winner
	}
	return false, 0, nil
}

// broadcast relays m to both peers.
func (g *game) broadcast(m wire.Move) {
	g.sendTo(wire.White, m)
	g.sendTo(wire.Black, m)
}

// sendTo relays m to c. A failed send surfaces as c's failure.
func (g *game) sendTo(c wire.Color, m wire.Move) {
	ctx, cancel := context.WithTimeout(context.Background(), g.s.opts.SendTimeout)
	err := g.players[c].sess.Send(ctx, m)
	cancel()
	if err != nil {
		select {
		case g.failed <- failure{color: c, err: err}:
		default:
		}
	}
}

// deadlineTimer arms the earlier of the per-turn timeout and the mover's flag.
func (g *game) deadlineTimer() (*time.Timer, <-chan time.Time) {
	var dl time.Time
	if d := g.s.opts.TurnTimeout; d > 0 {
		dl = g.turnStarted.Add(d)
	}
	if flag := g.clock.Deadline(); !flag.IsZero() && (dl.IsZero() || flag.Before(dl)) {
		dl = flag
	}
	if dl.IsZero() {
		return nil, nil
	}
	t := time.NewTimer(time.Until(dl))
	return t, t.C
}

func (g *game) disconnectReason(err error) wire.Reason {
	if errors.Is(err, wire.ErrMalformed) || errors.Is(err, session.ErrUnexpectedMessage) {
		return wire.ReasonProtocolViolation
	}
	return wire.ReasonDisconnect
}

// finish notifies both peers, tears the sessions down and persists the result.
func (g *game) finish(reason wire.Reason, winner *wire.Color) *chessdto.GameSnapshot {
	v := g.arb.End(reason, winner)
	end := wire.End{Reason: v.Reason, Winner: v.Winner}
	for _, p := range g.players {
		g.s.sendBestEffort(p.sess, end)
	}
	for _, p := range g.players {
		_ = p.sess.Close()
	}
	close(g.done)
	g.wg.Wait()

	g.snap.Reason = v.Reason.String()
	switch {
	case v.Winner != nil:
		g.snap.Winner = g.players[*v.Winner].name
		g.snap.Outcome = v.Winner.String()
		g.snap.Status = chessdto.StatusFinished
	case v.Reason == wire.ReasonDrawAgreed || v.Reason == wire.ReasonDraw:
		g.snap.Outcome = "draw"
		g.snap.Status = chessdto.StatusDraw
	default:
		g.snap.Status = chessdto.StatusAborted
	}
	g.save()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.s.opts.History.SaveResult(ctx, g.snap, v.Reason.String()); err != nil {
		g.logger.Warn("relay_history_failed", zap.Error(err))
	}
	fields := []zap.Field{zap.Stringer("reason", v.Reason), zap.Int("plies", g.arb.Plies())}
	if v.Winner != nil {
		fields = append(fields, zap.Stringer("winner", *v.Winner))
	}
	g.logger.Info("relay_game_end", fields...)
	return g.snap.Clone()
}

// save refreshes the snapshot from the board and stores it. Store errors are logged only.
func (g *game) save() {
	now := time.Now()
	g.snap.FEN = g.board.FEN()
	g.snap.MovesUCI = g.board.MovesUCI()
	g.snap.MovesSAN = g.board.MovesSAN()
	g.snap.Turn = g.arb.Current().String()
	g.snap.UpdatedAt = now
	g.snap.DrawOffer = ""
	if c, ok := g.arb.PendingOffer(); ok {
		g.snap.DrawOffer = c.String()
	}
	if g.clock != nil {
		g.snap.WhiteMS = g.clock.Remaining(wire.White, now).Milliseconds()
		g.snap.BlackMS = g.clock.Remaining(wire.Black, now).Milliseconds()
	}
	g.s.publish(g.snap)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.s.opts.Store.Save(ctx, g.snap); err != nil {
		g.logger.Warn("relay_snapshot_failed", zap.Error(err))
	}
}
