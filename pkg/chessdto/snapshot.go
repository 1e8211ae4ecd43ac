package chessdto

import "time"

// Status is a relayed game's lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusDraw     Status = "DRAW"
	StatusAborted  Status = "ABORTED"
)

// GameSnapshot is the shared view of one relayed game: the server stores it
// after every committed move and the status API serves it as JSON.
type GameSnapshot struct {
	ID          string    `json:"id"`
	StartFEN    string    `json:"start_fen"`
	FEN         string    `json:"fen"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	Turn        string    `json:"turn"`
	Status      Status    `json:"status"`
	WhiteName   string    `json:"white_name"`
	BlackName   string    `json:"black_name"`
	WhiteAddr   string    `json:"white_addr,omitempty"`
	BlackAddr   string    `json:"black_addr,omitempty"`
	TimeControl string    `json:"time_control,omitempty"`
	WhiteMS     int64     `json:"white_ms,omitempty"`
	BlackMS     int64     `json:"black_ms,omitempty"`
	DrawOffer   string    `json:"draw_offer,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// set once the game is over
	Reason  string `json:"reason,omitempty"`
	Winner  string `json:"winner,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// Finished reports whether the snapshot describes a completed game.
func (g *GameSnapshot) Finished() bool {
	return g != nil && g.Status != StatusActive && g.Status != ""
}

// Clone returns a deep copy safe to hand to another goroutine.
func (g *GameSnapshot) Clone() *GameSnapshot {
	if g == nil {
		return nil
	}
	c := *g
	c.MovesUCI = append([]string(nil), g.MovesUCI...)
	c.MovesSAN = append([]string(nil), g.MovesSAN...)
	return &c
}
