package arbiter

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/wire"
)

func uci(t *testing.T, s string) wire.Move {
	t.Helper()
	m, err := rules.ParseUCI(s)
	if err != nil {
		t.Fatalf("ParseUCI(%q): %v", s, err)
	}
	return m
}

// Over a legal alternating game, every move is accepted iff the mover is the side to move.
func TestAcceptsOnlyExpectedMover(t *testing.T) {
	line := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6", "b5a4", "g8f6", "e1g1", "f8e7"}
	board, err := rules.NewBoard("")
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	a := New(wire.White)
	for i, s := range line {
		m := uci(t, s)
		expected := wire.White
		if i%2 == 1 {
			expected = wire.Black
		}
		if a.Current() != expected {
			t.Fatalf("ply %d: current = %v, want %v", i, a.Current(), expected)
		}
		if _, err := a.TryAccept(m, expected.Opponent()); !errors.Is(err, ErrWrongTurn) {
			t.Fatalf("ply %d: wrong mover accepted, err = %v", i, err)
		}
		if a.Current() != expected || a.Plies() != i {
			t.Fatalf("ply %d: rejected move changed state", i)
		}
		v, err := a.TryAccept(m, expected)
		if err != nil {
			t.Fatalf("ply %d: TryAccept: %v", i, err)
		}
		if !v.Applied || v.Over {
			t.Fatalf("ply %d: verdict = %+v", i, v)
		}
		if err := board.ApplyMove(m); err != nil {
			t.Fatalf("ply %d: board rejected %s: %v", i, s, err)
		}
		if board.SideToMove() != a.Current() {
			t.Fatalf("ply %d: arbiter and board disagree", i)
		}
	}
	if a.Plies() != len(line) {
		t.Fatalf("plies = %d", a.Plies())
	}
}

func TestSignalsPassForEitherColor(t *testing.T) {
	a := New(wire.White)
	if err := a.Check(wire.Move{OfferDraw: true}, wire.Black); err != nil {
		t.Fatalf("offer from black on white's turn: %v", err)
	}
	if err := a.Check(wire.Move{Forfeit: true}, wire.Black); err != nil {
		t.Fatalf("forfeit from black on white's turn: %v", err)
	}
	if a.Current() != wire.White {
		t.Fatalf("Check changed turn")
	}
}

func TestForfeit(t *testing.T) {
	a := New(wire.White)
	v, err := a.TryAccept(wire.Move{Forfeit: true}, wire.White)
	if err != nil {
		t.Fatalf("TryAccept: %v", err)
	}
	if !v.Over || v.Reason != wire.ReasonForfeit || v.Winner == nil || *v.Winner != wire.Black {
		t.Fatalf("verdict = %+v", v)
	}
	if _, err := a.TryAccept(uci(t, "e2e4"), wire.White); !errors.Is(err, ErrGameOver) {
		t.Fatalf("expected ErrGameOver, got %v", err)
	}
	if _, err := a.TryAccept(wire.Move{OfferDraw: true}, wire.Black); !errors.Is(err, ErrGameOver) {
		t.Fatalf("signal after game over: %v", err)
	}
}

func TestDrawAgreed(t *testing.T) {
	a := New(wire.White)
	v, _ := a.TryAccept(wire.Move{OfferDraw: true}, wire.White)
	if !v.DrawOffered || v.Over {
		t.Fatalf("offer verdict = %+v", v)
	}
	if c, ok := a.PendingOffer(); !ok || c != wire.White {
		t.Fatalf("pending = %v,%v", c, ok)
	}
	// repeating one's own offer does not agree
	if v, _ := a.TryAccept(wire.Move{OfferDraw: true}, wire.White); v.Over {
		t.Fatalf("own offer twice ended the game")
	}
	v, _ = a.TryAccept(wire.Move{OfferDraw: true}, wire.Black)
	if !v.Over || v.Reason != wire.ReasonDrawAgreed || v.Winner != nil {
		t.Fatalf("agreement verdict = %+v", v)
	}
}

func TestBoardMoveClearsOffer(t *testing.T) {
	a := New(wire.White)
	_, _ = a.TryAccept(wire.Move{OfferDraw: true}, wire.Black)
	if _, err := a.TryAccept(uci(t, "e2e4"), wire.White); err != nil {
		t.Fatalf("TryAccept: %v", err)
	}
	if _, ok := a.PendingOffer(); ok {
		t.Fatalf("offer survived a board move")
	}
	v, _ := a.TryAccept(wire.Move{OfferDraw: true}, wire.White)
	if v.Over {
		t.Fatalf("stale offer was accepted")
	}
}

func TestExternalEndFirstWins(t *testing.T) {
	a := New(wire.White)
	a.End(wire.ReasonDisconnect, wire.Opt(wire.Black))
	v := a.End(wire.ReasonTimeout, wire.Opt(wire.White))
	if v.Reason != wire.ReasonDisconnect || *v.Winner != wire.Black {
		t.Fatalf("outcome = %+v", v)
	}
	if got := a.Commit(wire.Move{Forfeit: true}, wire.Black); got.Reason != wire.ReasonDisconnect {
		t.Fatalf("commit after end = %+v", got)
	}
}

func TestClock(t *testing.T) {
	if NewClock(0, time.Second, wire.White) != nil {
		t.Fatalf("untimed clock should be nil")
	}
	var untimed *Clock
	if untimed.Switch(time.Now()) || !untimed.Deadline().IsZero() {
		t.Fatalf("nil clock must never flag")
	}

	t0 := time.Unix(1000, 0)
	c := NewClock(time.Minute, 2*time.Second, wire.White)
	c.Start(t0)
	if !c.Deadline().Equal(t0.Add(time.Minute)) {
		t.Fatalf("deadline = %v", c.Deadline())
	}
	if c.Switch(t0.Add(10 * time.Second)) {
		t.Fatalf("white flagged early")
	}
	if got := c.Remaining(wire.White, t0.Add(10*time.Second)); got != 52*time.Second {
		t.Fatalf("white remaining = %v", got)
	}
	if c.Running() != wire.Black {
		t.Fatalf("running = %v", c.Running())
	}
	if got := c.Remaining(wire.Black, t0.Add(40*time.Second)); got != 30*time.Second {
		t.Fatalf("black remaining = %v", got)
	}
	if !c.Switch(t0.Add(71 * time.Second)) {
		t.Fatalf("black should have flagged")
	}
	if got := c.Remaining(wire.Black, t0.Add(80*time.Second)); got != 0 {
		t.Fatalf("flagged remaining = %v", got)
	}
}
