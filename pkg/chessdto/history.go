package chessdto

import "time"

// GameResult is one finished game as kept by the result history.
type GameResult struct {
	ID           int64
	GameID       string
	WhiteName    string
	BlackName    string
	TimeControl  string
	Result       string
	ResultMethod string
	MovesUCI     []string
	MovesSAN     []string
	PGN          string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}
