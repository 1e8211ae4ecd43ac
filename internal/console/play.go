package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/arbiter"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/peer"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/wire"
)

var ErrConnectionLost = errors.New("connection lost")

type IntentKind int

const (
	IntentMove IntentKind = iota + 1
	IntentDraw
	IntentResign
	IntentBoard
	IntentHelp
)

// Intent is one parsed input line.
type Intent struct {
	Kind IntentKind
	Move wire.Move
}

// ParseIntent reads a command word or a UCI move.
func ParseIntent(line string) (Intent, error) {
	s := strings.ToLower(strings.TrimSpace(line))
	switch s {
	case "draw":
		return Intent{Kind: IntentDraw}, nil
	case "resign", "forfeit":
		return Intent{Kind: IntentResign}, nil
	case "board":
		return Intent{Kind: IntentBoard}, nil
	case "help", "?":
		return Intent{Kind: IntentHelp}, nil
	}
	m, err := rules.ParseUCI(s)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Kind: IntentMove, Move: m}, nil
}

// Game is the part of *peer.Client the console drives.
type Game interface {
	Submit(from, to wire.Position, promo wire.PieceKind) error
	Forfeit() error
	OfferDraw() error
	Poll() []peer.Event
	Pieces() []rules.Piece
	Color() wire.Color
	SideToMove() wire.Color
	Opponent() string
}

// ReadLines feeds lines from in to the returned channel, which is closed at EOF
// or once ctx is done.
func ReadLines(ctx context.Context, in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

const pollInterval = 25 * time.Millisecond

// Play runs the input/poll loop until the game ends. Closing lines resigns.
func Play(ctx context.Context, g Game, r *Renderer, lines <-chan string, logger *zap.Logger) (peer.Event, error) {
	logger = obslog.Or(logger)
	r.SetPerspective(g.Color())
	r.DrawBoard(g.Pieces())
	r.Prompt(g.SideToMove())

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return peer.Event{}, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				if err := g.Forfeit(); err != nil {
					logger.Debug("console_forfeit_failed", zap.Error(err))
				}
				continue
			}
			if strings.TrimSpace(line) == "" {
				r.Prompt(g.SideToMove())
				continue
			}
			r.handleLine(g, line)
		case <-ticker.C:
			for _, ev := range g.Poll() {
				if done, err := r.show(g, ev); done {
					return ev, err
				}
			}
		}
	}
}

func (r *Renderer) handleLine(g Game, line string) {
	in, err := ParseIntent(line)
	if err != nil {
		r.Say("move.unparsed", map[string]any{"Input": strings.TrimSpace(line)})
		r.Prompt(g.SideToMove())
		return
	}
	switch in.Kind {
	case IntentHelp:
		r.Say("client.help", nil)
	case IntentBoard:
		r.DrawBoard(g.Pieces())
	case IntentResign:
		err = g.Forfeit()
	case IntentDraw:
		if err = g.OfferDraw(); err == nil {
			r.Say("draw.offered_by_you", nil)
		}
	case IntentMove:
		err = g.Submit(in.Move.From, in.Move.To, in.Move.Promotion)
	}
	switch {
	case err == nil:
		if in.Kind == IntentMove || in.Kind == IntentResign {
			return
		}
	case errors.Is(err, arbiter.ErrWrongTurn):
		r.Say("move.wrong_turn", nil)
	case errors.Is(err, peer.ErrMovePending):
		r.Say("move.pending", nil)
	case errors.Is(err, rules.ErrIllegalMove):
		r.Say("move.illegal", map[string]any{"Move": strings.TrimSpace(line)})
	default:
		r.Say("move.unparsed", map[string]any{"Input": err.Error()})
	}
	r.Prompt(g.SideToMove())
}

// show prints one event and reports whether the game is over.
func (r *Renderer) show(g Game, ev peer.Event) (bool, error) {
	switch ev.Kind {
	case peer.EventMoved:
		if ev.By == g.Color() {
			r.Say("move.yours", map[string]any{"Move": ev.SAN})
		} else {
			r.Say("move.theirs", map[string]any{"Opponent": g.Opponent(), "Move": ev.SAN})
		}
		r.DrawBoard(g.Pieces())
		r.Prompt(g.SideToMove())
	case peer.EventDrawOffered:
		if ev.By != g.Color() {
			r.Say("draw.offered_by_them", map[string]any{"Opponent": g.Opponent()})
		}
	case peer.EventGameOver:
		data := map[string]any{}
		if ev.Winner != nil {
			data["Winner"] = ColorName(*ev.Winner)
			data["Loser"] = ColorName(ev.Winner.Opponent())
		}
		r.Say("end."+ev.Reason.String(), data)
		return true, nil
	case peer.EventConnectionLost:
		r.Say("end.connection_lost", nil)
		return true, fmt.Errorf("%w: %v", ErrConnectionLost, ev.Err)
	}
	return false, nil
}
