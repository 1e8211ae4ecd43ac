// Package history persists finished games with their PGN.
package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

type Repository interface {
	// SaveResult upserts the final result of a snapshot; method is the end reason.
	SaveResult(ctx context.Context, g *chessdto.GameSnapshot, method string) error
	Get(ctx context.Context, gameID string) (*chessdto.GameResult, error)
	Recent(ctx context.Context, limit int) ([]*chessdto.GameResult, error)
	Close() error
}

// Open returns a Postgres repository for databaseURL, or a memory one when it is empty.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemory(), nil
	}
	return NewPostgres(ctx, databaseURL)
}

// ResultOf builds the stored row for a finished snapshot.
func ResultOf(g *chessdto.GameSnapshot, method string) *chessdto.GameResult {
	pgnResult := mapResultToPGN(g.Outcome)
	ended := g.UpdatedAt
	dur := ended.Sub(g.CreatedAt)
	if dur < 0 {
		dur = 0
	}
	return &chessdto.GameResult{
		GameID:       g.ID,
		WhiteName:    g.WhiteName,
		BlackName:    g.BlackName,
		TimeControl:  g.TimeControl,
		Result:       strings.TrimSpace(g.Outcome),
		ResultMethod: strings.TrimSpace(method),
		MovesUCI:     append([]string(nil), g.MovesUCI...),
		MovesSAN:     append([]string(nil), g.MovesSAN...),
		PGN:          buildPGN(g, pgnResult, method),
		StartedAt:    g.CreatedAt,
		EndedAt:      ended,
		Duration:     dur,
	}
}

// mapResultToPGN accepts the snapshot outcome: white, black or draw.
func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g *chessdto.GameSnapshot, pgnResult, method string) string {
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	fmt.Fprintf(&b, "[Event \"Cheese Relay\"]\n")
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(siteOf(g)))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(orUnknown(g.WhiteName)))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(orUnknown(g.BlackName)))
	if tc := strings.TrimSpace(g.TimeControl); tc != "" && tc != "none" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(pgnTimeControl(tc)))
	}
	if g.StartFEN != "" && g.StartFEN != standardFEN {
		fmt.Fprintf(&b, "[SetUp \"1\"]\n[FEN \"%s\"]\n", sanitizePGN(g.StartFEN))
	}
	if m := strings.TrimSpace(method); m != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m)))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", pgnResult)

	// numbering continues from the set-up position's fullmove counter
	num := fullmoveOf(g.StartFEN)
	i := 0
	if blackToMoveFirst(g.StartFEN) && len(g.MovesSAN) > 0 {
		fmt.Fprintf(&b, "%d... %s ", num, strings.TrimSpace(g.MovesSAN[0]))
		num++
		i = 1
	}
	for ; i < len(g.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s", num, strings.TrimSpace(g.MovesSAN[i]))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
		}
		b.WriteString(" ")
		num++
	}
	b.WriteString(pgnResult)
	return b.String()
}

const standardFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func blackToMoveFirst(fen string) bool {
	fields := strings.Fields(fen)
	return len(fields) > 1 && fields[1] == "b"
}

// fullmoveOf reads the sixth FEN field, defaulting to 1.
func fullmoveOf(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 1
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// pgnTimeControl turns "3+2" into the PGN form "180+2".
func pgnTimeControl(tc string) string {
	base, inc, err := config.ParseTimeControl(tc)
	if err != nil {
		return tc
	}
	return fmt.Sprintf("%d+%d", int(base/time.Second), int(inc/time.Second))
}

func siteOf(g *chessdto.GameSnapshot) string {
	if g.WhiteAddr != "" && g.BlackAddr != "" {
		return g.WhiteAddr + " vs " + g.BlackAddr
	}
	return "relay"
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
