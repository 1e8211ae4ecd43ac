package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

const schema = `CREATE TABLE IF NOT EXISTS relay_games (
    id BIGSERIAL PRIMARY KEY,
    game_id TEXT NOT NULL UNIQUE,
    white_name TEXT NOT NULL,
    black_name TEXT NOT NULL,
    time_control TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL DEFAULT '',
    result_method TEXT NOT NULL DEFAULT '',
    moves_uci JSONB NOT NULL DEFAULT '[]',
    moves_san JSONB NOT NULL DEFAULT '[]',
    pgn TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0
)`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create relay_games: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (r *Postgres) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Postgres) SaveResult(ctx context.Context, g *chessdto.GameSnapshot, method string) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	res := ResultOf(g, method)
	movesUCI, _ := json.Marshal(res.MovesUCI)
	movesSAN, _ := json.Marshal(res.MovesSAN)

	q := `INSERT INTO relay_games (
        game_id, white_name, black_name, time_control,
        result, result_method, moves_uci, moves_san, pgn,
        started_at, ended_at, duration_ms
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
      ON CONFLICT (game_id) DO UPDATE SET
        white_name=EXCLUDED.white_name,
        black_name=EXCLUDED.black_name,
        time_control=EXCLUDED.time_control,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		res.GameID, res.WhiteName, res.BlackName, res.TimeControl,
		res.Result, res.ResultMethod, string(movesUCI), string(movesSAN), res.PGN,
		res.StartedAt, res.EndedAt, res.Duration.Milliseconds(),
	)
	return err
}

const selectCols = `id, game_id, white_name, black_name, time_control, result, result_method,
        moves_uci, moves_san, pgn, started_at, ended_at, duration_ms`

func (r *Postgres) Get(ctx context.Context, gameID string) (*chessdto.GameResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM relay_games WHERE game_id = $1`, gameID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (r *Postgres) Recent(ctx context.Context, limit int) ([]*chessdto.GameResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectCols+` FROM relay_games ORDER BY ended_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*chessdto.GameResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (*chessdto.GameResult, error) {
	var (
		res        chessdto.GameResult
		uci, san   []byte
		durationMS int64
	)
	if err := s.Scan(&res.ID, &res.GameID, &res.WhiteName, &res.BlackName, &res.TimeControl,
		&res.Result, &res.ResultMethod, &uci, &san, &res.PGN,
		&res.StartedAt, &res.EndedAt, &durationMS); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(uci, &res.MovesUCI)
	_ = json.Unmarshal(san, &res.MovesSAN)
	res.Duration = time.Duration(durationMS) * time.Millisecond
	return &res, nil
}
