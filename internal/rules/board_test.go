package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/cheese-relay/internal/wire"
)

func mustBoard(t *testing.T, fen string) *Board {
	t.Helper()
	b, err := NewBoard(fen)
	if err != nil {
		t.Fatalf("NewBoard(%q): %v", fen, err)
	}
	return b
}

func play(t *testing.T, b *Board, moves ...string) {
	t.Helper()
	for _, s := range moves {
		m, err := ParseUCI(s)
		if err != nil {
			t.Fatalf("ParseUCI(%q): %v", s, err)
		}
		if err := b.ApplyMove(m); err != nil {
			t.Fatalf("ApplyMove(%q): %v", s, err)
		}
	}
}

func TestStandardStart(t *testing.T) {
	b := mustBoard(t, "")
	if got := len(b.Pieces()); got != 32 {
		t.Fatalf("pieces = %d, want 32", got)
	}
	if b.SideToMove() != wire.White {
		t.Fatalf("side to move = %v", b.SideToMove())
	}
	if b.Outcome().Over {
		t.Fatalf("fresh game reported over")
	}
	if b.StartFEN() != StandardFEN {
		t.Fatalf("start fen = %q", b.StartFEN())
	}
}

func TestApplyE2E4(t *testing.T) {
	b := mustBoard(t, "")
	if err := b.Apply(wire.Position{X: 4, Y: 1}, wire.Position{X: 4, Y: 3}, wire.NoPiece); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b.SideToMove() != wire.Black {
		t.Fatalf("side to move = %v, want black", b.SideToMove())
	}
	if got := b.MovesUCI(); len(got) != 1 || got[0] != "e2e4" {
		t.Fatalf("uci = %v", got)
	}
	if got := b.MovesSAN(); len(got) != 1 || got[0] != "e4" {
		t.Fatalf("san = %v", got)
	}
	found := false
	for _, p := range b.Pieces() {
		if p.At == (wire.Position{X: 4, Y: 3}) {
			found = p.Kind == wire.Pawn && p.Color == wire.White
		}
	}
	if !found {
		t.Fatalf("no white pawn on e4")
	}
}

func TestIllegalMoveLeavesBoard(t *testing.T) {
	b := mustBoard(t, "")
	before := b.FEN()
	err := b.Apply(wire.Position{X: 4, Y: 1}, wire.Position{X: 4, Y: 4}, wire.NoPiece)
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if b.FEN() != before || b.Plies() != 0 {
		t.Fatalf("illegal move changed the board")
	}
	// black piece on white's turn
	if b.Legal(wire.Position{X: 4, Y: 6}, wire.Position{X: 4, Y: 4}, wire.NoPiece) {
		t.Fatalf("e7e5 legal for white")
	}
	if err := b.ApplyMove(wire.Move{Forfeit: true}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("signal applied to board: %v", err)
	}
}

func TestPromotion(t *testing.T) {
	b := mustBoard(t, "8/P7/8/8/8/8/8/k6K w - - 0 1")
	from, to := wire.Position{X: 0, Y: 6}, wire.Position{X: 0, Y: 7}
	if b.Legal(from, to, wire.NoPiece) {
		t.Fatalf("promotion without piece accepted")
	}
	if b.Legal(from, to, wire.King) {
		t.Fatalf("king promotion accepted")
	}
	if err := b.Apply(from, to, wire.Queen); err != nil {
		t.Fatalf("Apply promotion: %v", err)
	}
	for _, p := range b.Pieces() {
		if p.At == to && p.Kind != wire.Queen {
			t.Fatalf("a8 holds %v", p.Kind)
		}
	}
	if got := b.MovesUCI()[0]; got != "a7a8q" {
		t.Fatalf("uci = %q", got)
	}
}

func TestFoolsMate(t *testing.T) {
	b := mustBoard(t, "")
	play(t, b, "f2f3", "e7e5", "g2g4", "d8h4")
	out := b.Outcome()
	if !out.Over || out.Reason != wire.ReasonCheckmate {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Winner == nil || *out.Winner != wire.Black {
		t.Fatalf("winner = %v", out.Winner)
	}
	if b.Legal(wire.Position{X: 0, Y: 1}, wire.Position{X: 0, Y: 2}, wire.NoPiece) {
		t.Fatalf("move accepted after mate")
	}
	if !strings.Contains(b.PGN(), "Qh4#") {
		t.Fatalf("pgn missing mate: %q", b.PGN())
	}
}

func TestStalemateIsDraw(t *testing.T) {
	b := mustBoard(t, "k7/8/1Q6/8/8/8/8/7K w - - 0 1")
	play(t, b, "b6c7")
	if b.Legal(wire.Position{X: 0, Y: 7}, wire.Position{X: 0, Y: 6}, wire.NoPiece) {
		t.Fatalf("king move accepted")
	}
	out := b.Outcome()
	if !out.Over || out.Reason != wire.ReasonDraw || out.Winner != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Method != "Stalemate" {
		t.Fatalf("method = %q", out.Method)
	}
}

func TestInvalidFEN(t *testing.T) {
	if _, err := NewBoard("not a fen"); !errors.Is(err, ErrInvalidFEN) {
		t.Fatalf("expected ErrInvalidFEN, got %v", err)
	}
}

func TestParseUCI(t *testing.T) {
	cases := []struct {
		in   string
		want wire.Move
		ok   bool
	}{
		{"e2e4", wire.Move{From: wire.Position{X: 4, Y: 1}, To: wire.Position{X: 4, Y: 3}}, true},
		{" A7A8Q ", wire.Move{From: wire.Position{X: 0, Y: 6}, To: wire.Position{X: 0, Y: 7}, Promotion: wire.Queen}, true},
		{"h7h8n", wire.Move{From: wire.Position{X: 7, Y: 6}, To: wire.Position{X: 7, Y: 7}, Promotion: wire.Knight}, true},
		{"e2e9", wire.Move{}, false},
		{"e7e8k", wire.Move{}, false},
		{"e2", wire.Move{}, false},
	}
	for _, tc := range cases {
		got, err := ParseUCI(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseUCI(%q) err = %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseUCI(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if tc.ok {
			back, _ := UCI(got.From, got.To, got.Promotion)
			if back != strings.ToLower(strings.TrimSpace(tc.in)) {
				t.Fatalf("UCI round trip %q -> %q", tc.in, back)
			}
		}
	}
}
