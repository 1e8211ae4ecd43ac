// Package arbiter decides whose move it is and when a game is over.
//
// The relay server holds the authoritative Arbiter; peers mirror it to refuse
// out-of-turn intents before they reach the wire.
package arbiter

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-relay/internal/wire"
)

var (
	ErrWrongTurn = errors.New("not your turn")
	ErrGameOver  = errors.New("game is over")
)

// Verdict is what a committed move did to the game.
type Verdict struct {
	// Applied is set for board moves; the turn has passed to the opponent.
	Applied     bool
	DrawOffered bool
	Over        bool
	Reason      wire.Reason
	Winner      *wire.Color
}

type Arbiter struct {
	current wire.Color
	plies   int
	offer   *wire.Color

	over   bool
	reason wire.Reason
	winner *wire.Color
}

// New starts a game with first to move (White for the standard start).
func New(first wire.Color) *Arbiter {
	return &Arbiter{current: first}
}

func (a *Arbiter) Current() wire.Color { return a.current }

// Plies counts committed board moves.
func (a *Arbiter) Plies() int { return a.plies }

func (a *Arbiter) Over() bool { return a.over }

// Outcome returns the terminal verdict, or a zero Verdict while the game runs.
func (a *Arbiter) Outcome() Verdict {
	if !a.over {
		return Verdict{}
	}
	return Verdict{Over: true, Reason: a.reason, Winner: a.winner}
}

// PendingOffer reports which side has an unanswered draw offer.
func (a *Arbiter) PendingOffer() (wire.Color, bool) {
	if a.offer == nil {
		return 0, false
	}
	return *a.offer, true
}

// Check validates without changing state. Signals pass for either color.
func (a *Arbiter) Check(m wire.Move, mover wire.Color) error {
	if a.over {
		return ErrGameOver
	}
	if !mover.Valid() {
		return fmt.Errorf("check: invalid mover %d", mover)
	}
	if m.Signal() {
		return nil
	}
	if mover != a.current {
		return fmt.Errorf("%w: %s to move, got %s", ErrWrongTurn, a.current, mover)
	}
	return nil
}

// Commit records a move that already passed Check.
func (a *Arbiter) Commit(m wire.Move, mover wire.Color) Verdict {
	if a.over {
		return a.Outcome()
	}
	switch {
	case m.Forfeit:
		a.finish(wire.ReasonForfeit, wire.Opt(mover.Opponent()))
		return a.Outcome()
	case m.OfferDraw:
		if a.offer != nil && *a.offer == mover.Opponent() {
			a.offer = nil
			a.finish(wire.ReasonDrawAgreed, nil)
			v := a.Outcome()
			v.DrawOffered = true
			return v
		}
		a.offer = wire.Opt(mover)
		return Verdict{DrawOffered: true}
	}
	a.plies++
	a.current = mover.Opponent()
	a.offer = nil
	return Verdict{Applied: true}
}

// TryAccept is Check followed by Commit.
func (a *Arbiter) TryAccept(m wire.Move, mover wire.Color) (Verdict, error) {
	if err := a.Check(m, mover); err != nil {
		return Verdict{}, err
	}
	return a.Commit(m, mover), nil
}

// End records an outcome decided outside the arbiter: disconnect, timeout,
// checkmate or a rules draw. The first terminal outcome wins.
func (a *Arbiter) End(reason wire.Reason, winner *wire.Color) Verdict {
	if !a.over {
		a.finish(reason, winner)
	}
	return a.Outcome()
}

func (a *Arbiter) finish(reason wire.Reason, winner *wire.Color) {
	a.over = true
	a.reason = reason
	a.winner = winner
	a.offer = nil
}
