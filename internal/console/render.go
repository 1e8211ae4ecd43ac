// Package console is the text front end of the client role: an ASCII board,
// catalog-driven messages and line-based move input.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/wire"
)

// Renderer writes boards and messages. The board is drawn from the
// perspective of one color, so Black sees rank 1 at the top.
type Renderer struct {
	out         io.Writer
	cat         *msgcat.Catalog
	perspective wire.Color
	interactive bool
}

// New returns a Renderer; prompts are only printed when interactive is set.
func New(out io.Writer, cat *msgcat.Catalog, interactive bool) *Renderer {
	return &Renderer{out: out, cat: cat, interactive: interactive}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (r *Renderer) SetPerspective(c wire.Color) { r.perspective = c }

// Board renders pieces as an 8x8 grid with rank and file labels.
func (r *Renderer) Board(pieces []rules.Piece) string {
	var grid [8][8]byte
	for y := range grid {
		for x := range grid[y] {
			grid[y][x] = '.'
		}
	}
	for _, p := range pieces {
		if p.At.Valid() {
			grid[p.At.Y][p.At.X] = pieceLetter(p)
		}
	}

	ranks := []int{7, 6, 5, 4, 3, 2, 1, 0}
	files := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if r.perspective == wire.Black {
		ranks = []int{0, 1, 2, 3, 4, 5, 6, 7}
		files = []int{7, 6, 5, 4, 3, 2, 1, 0}
	}

	var b strings.Builder
	b.WriteString("  +-----------------+\n")
	for _, y := range ranks {
		fmt.Fprintf(&b, "%d |", y+1)
		for _, x := range files {
			b.WriteByte(' ')
			b.WriteByte(grid[y][x])
		}
		b.WriteString(" |\n")
	}
	b.WriteString("  +-----------------+\n   ")
	for _, x := range files {
		b.WriteByte(' ')
		b.WriteByte(byte('a' + x))
	}
	b.WriteByte('\n')
	return b.String()
}

func (r *Renderer) DrawBoard(pieces []rules.Piece) {
	fmt.Fprint(r.out, r.Board(pieces))
}

// Say prints the catalog message for key on its own line.
func (r *Renderer) Say(key string, data map[string]any) {
	msg := strings.TrimRight(r.cat.Text(key, data), "\n")
	fmt.Fprintln(r.out, msg)
}

func (r *Renderer) Prompt(toMove wire.Color) {
	if !r.interactive {
		return
	}
	fmt.Fprint(r.out, r.cat.Text("client.prompt", map[string]any{"Color": ColorName(toMove)}))
}

func pieceLetter(p rules.Piece) byte {
	var c byte
	switch p.Kind {
	case wire.Pawn:
		c = 'p'
	case wire.Knight:
		c = 'n'
	case wire.Bishop:
		c = 'b'
	case wire.Rook:
		c = 'r'
	case wire.Queen:
		c = 'q'
	case wire.King:
		c = 'k'
	default:
		return '?'
	}
	if p.Color == wire.White {
		c -= 'a' - 'A'
	}
	return c
}

// ColorName renders a color as "White" or "Black".
func ColorName(c wire.Color) string {
	s := c.String()
	return strings.ToUpper(s[:1]) + s[1:]
}
