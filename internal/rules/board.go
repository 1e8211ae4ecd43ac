// Package rules adapts github.com/corentings/chess/v2 to the relay's wire types.
// The relay server owns the authoritative Board; each peer keeps an advisory copy.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-relay/internal/wire"
)

const StandardFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrInvalidFEN  = errors.New("invalid fen")
)

// Piece is one occupied square.
type Piece struct {
	At    wire.Position
	Kind  wire.PieceKind
	Color wire.Color
}

// Outcome describes a position the rules consider finished.
type Outcome struct {
	Over   bool
	Reason wire.Reason
	Winner *wire.Color
	// Method is the rules engine's termination method, e.g. "Checkmate".
	Method string
}

type Board struct {
	game     *nchess.Game
	startFEN string
	uci      []string
	san      []string
}

// NewBoard starts a game from fen; an empty fen means the standard start.
func NewBoard(fen string) (*Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || strings.EqualFold(fen, "startpos") {
		return &Board{game: nchess.NewGame(), startFEN: StandardFEN}, nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return &Board{game: nchess.NewGame(opt), startFEN: fen}, nil
}

// Legal reports whether from->to (with promo for pawn promotions) is legal for the side to move.
func (b *Board) Legal(from, to wire.Position, promo wire.PieceKind) bool {
	uci, ok := UCI(from, to, promo)
	if !ok || b.game.Outcome() != nchess.NoOutcome {
		return false
	}
	for _, mv := range b.game.ValidMoves() {
		if mv.String() == uci {
			return true
		}
	}
	return false
}

// Apply plays one ply or returns ErrIllegalMove leaving the board untouched.
func (b *Board) Apply(from, to wire.Position, promo wire.PieceKind) error {
	if !b.Legal(from, to, promo) {
		return fmt.Errorf("%w: %s", ErrIllegalMove, wire.Move{From: from, To: to, Promotion: promo})
	}
	uci, _ := UCI(from, to, promo)
	pos := b.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := b.game.Move(mv, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	b.uci = append(b.uci, uci)
	b.san = append(b.san, san)
	return nil
}

// ApplyMove plays a board move; signals have no board effect and are rejected.
func (b *Board) ApplyMove(m wire.Move) error {
	if m.Signal() {
		return fmt.Errorf("%w: %s carries no board effect", ErrIllegalMove, m)
	}
	return b.Apply(m.From, m.To, m.Promotion)
}

// Pieces lists every occupied square, rank 1 first.
func (b *Board) Pieces() []Piece {
	board := b.game.Position().Board()
	out := make([]Piece, 0, 32)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			p := board.Piece(nchess.NewSquare(nchess.File(x), nchess.Rank(y)))
			if p == nchess.NoPiece {
				continue
			}
			out = append(out, Piece{
				At:    wire.Position{X: uint8(x), Y: uint8(y)},
				Kind:  pieceKind(p.Type()),
				Color: colorOf(p.Color()),
			})
		}
	}
	return out
}

func (b *Board) SideToMove() wire.Color { return colorOf(b.game.Position().Turn()) }

// Outcome maps the engine's result onto relay end reasons.
func (b *Board) Outcome() Outcome {
	var out Outcome
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		out = Outcome{Over: true, Reason: wire.ReasonCheckmate, Winner: wire.Opt(wire.White)}
	case nchess.BlackWon:
		out = Outcome{Over: true, Reason: wire.ReasonCheckmate, Winner: wire.Opt(wire.Black)}
	case nchess.Draw:
		out = Outcome{Over: true, Reason: wire.ReasonDraw}
	default:
		return out
	}
	out.Method = b.game.Method().String()
	return out
}

func (b *Board) FEN() string { return b.game.FEN() }

func (b *Board) StartFEN() string { return b.startFEN }

func (b *Board) Plies() int { return len(b.uci) }

func (b *Board) MovesUCI() []string { return append([]string(nil), b.uci...) }

func (b *Board) MovesSAN() []string { return append([]string(nil), b.san...) }

// PGN is the engine's movetext for the game so far.
func (b *Board) PGN() string { return b.game.String() }

// UCI renders a board move as long algebraic text, e.g. "e7e8q".
func UCI(from, to wire.Position, promo wire.PieceKind) (string, bool) {
	if !from.Valid() || !to.Valid() {
		return "", false
	}
	s := from.String() + to.String()
	switch promo {
	case wire.NoPiece:
	case wire.Knight:
		s += "n"
	case wire.Bishop:
		s += "b"
	case wire.Rook:
		s += "r"
	case wire.Queen:
		s += "q"
	default:
		return "", false
	}
	return s, true
}

// ParseUCI reads "e2e4" or "e7e8q" into a board move.
func ParseUCI(s string) (wire.Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return wire.Move{}, fmt.Errorf("%w: %q is not a uci move", ErrIllegalMove, s)
	}
	from, ok1 := parseSquare(s[0:2])
	to, ok2 := parseSquare(s[2:4])
	if !ok1 || !ok2 {
		return wire.Move{}, fmt.Errorf("%w: %q is not a uci move", ErrIllegalMove, s)
	}
	m := wire.Move{From: from, To: to}
	if len(s) == 5 {
		switch s[4] {
		case 'n':
			m.Promotion = wire.Knight
		case 'b':
			m.Promotion = wire.Bishop
		case 'r':
			m.Promotion = wire.Rook
		case 'q':
			m.Promotion = wire.Queen
		default:
			return wire.Move{}, fmt.Errorf("%w: bad promotion in %q", ErrIllegalMove, s)
		}
	}
	return m, nil
}

func parseSquare(s string) (wire.Position, bool) {
	f, r := s[0], s[1]
	if f < 'a' || f > 'h' || r < '1' || r > '8' {
		return wire.Position{}, false
	}
	return wire.Position{X: f - 'a', Y: r - '1'}, true
}

func colorOf(c nchess.Color) wire.Color {
	if c == nchess.Black {
		return wire.Black
	}
	return wire.White
}

func pieceKind(t nchess.PieceType) wire.PieceKind {
	switch t {
	case nchess.Pawn:
		return wire.Pawn
	case nchess.Knight:
		return wire.Knight
	case nchess.Bishop:
		return wire.Bishop
	case nchess.Rook:
		return wire.Rook
	case nchess.Queen:
		return wire.Queen
	case nchess.King:
		return wire.King
	default:
		return wire.NoPiece
	}
}
