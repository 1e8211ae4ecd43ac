// Package wire defines the relay protocol messages and their binary framing.
//
// Every frame is [1-byte kind][4-byte little-endian payload length][payload].
package wire

import (
	"fmt"
	"time"
)

// Kind tags a frame with the message it carries.
type Kind uint8

const (
	KindStart Kind = 0x01
	KindMove  Kind = 0x02
	KindEnd   Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindMove:
		return "move"
	case KindEnd:
		return "end"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Message is implemented by Start, Move and End.
type Message interface {
	Kind() Kind
}

// Color identifies a side. White is 0 on the wire.
type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("color(%d)", uint8(c))
	}
}

// Position is a board square; X is the file (0 = a), Y the rank index (0 = rank 1).
type Position struct {
	X uint8
	Y uint8
}

func (p Position) Valid() bool { return p.X <= 7 && p.Y <= 7 }

// String renders the square in algebraic form, e.g. "e2".
func (p Position) String() string {
	if !p.Valid() {
		return fmt.Sprintf("(%d,%d)", p.X, p.Y)
	}
	return string([]byte{'a' + p.X, '1' + p.Y})
}

// PieceKind enumerates piece types. NoPiece marks an absent promotion.
type PieceKind uint8

const (
	NoPiece PieceKind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

// On the wire pieces are numbered from zero: Pawn=0 through King=5.
func (k PieceKind) wireCode() byte { return byte(k) - 1 }

func pieceFromWire(b byte) PieceKind { return PieceKind(b) + 1 }

// Promotable reports whether a pawn may promote to k.
func (k PieceKind) Promotable() bool { return k >= Knight && k <= Queen }

func (k PieceKind) String() string {
	switch k {
	case NoPiece:
		return "none"
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	default:
		return fmt.Sprintf("piece(%d)", uint8(k))
	}
}

// Move is one ply or an out-of-band signal. A forfeit carries no board effect
// and ends the game; an offer_draw without forfeit carries no board effect either.
type Move struct {
	From      Position
	To        Position
	Promotion PieceKind
	Forfeit   bool
	OfferDraw bool
}

func (Move) Kind() Kind { return KindMove }

// Signal reports whether the move carries no board effect.
func (m Move) Signal() bool { return m.Forfeit || m.OfferDraw }

func (m Move) String() string {
	switch {
	case m.Forfeit:
		return "forfeit"
	case m.OfferDraw:
		return "offer_draw"
	}
	s := m.From.String() + m.To.String()
	if m.Promotion != NoPiece {
		s += "=" + m.Promotion.String()
	}
	return s
}

// Start is exchanged once per direction during the handshake. Nil fields are absent:
// no FEN means the standard start, no Time means untimed.
type Start struct {
	IsWhite bool
	Name    *string
	FEN     *string
	Time    *time.Duration
	Inc     *time.Duration
}

func (Start) Kind() Kind { return KindStart }

// Reason explains why a game ended.
type Reason uint8

const (
	ReasonForfeit Reason = iota + 1
	ReasonDisconnect
	ReasonTimeout
	ReasonCheckmate
	ReasonDrawAgreed
	ReasonDraw
	ReasonAborted
	ReasonProtocolViolation
)

func (r Reason) Valid() bool { return r >= ReasonForfeit && r <= ReasonProtocolViolation }

func (r Reason) String() string {
	switch r {
	case ReasonForfeit:
		return "forfeit"
	case ReasonDisconnect:
		return "disconnect"
	case ReasonTimeout:
		return "timeout"
	case ReasonCheckmate:
		return "checkmate"
	case ReasonDrawAgreed:
		return "draw_agreed"
	case ReasonDraw:
		return "draw"
	case ReasonAborted:
		return "aborted"
	case ReasonProtocolViolation:
		return "protocol_violation"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// End is the server's termination notice. Winner is nil for draws and aborts.
type End struct {
	Reason Reason
	Winner *Color
}

func (End) Kind() Kind { return KindEnd }

// Opt returns a pointer to v, for filling optional fields.
func Opt[T any](v T) *T { return &v }
