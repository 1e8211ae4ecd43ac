// Package gamestore keeps snapshots of relayed games: in Redis when configured,
// otherwise in process memory.
package gamestore

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

var (
	ErrNotFound = errors.New("game not found")
	// ErrStale rejects a snapshot that is older than the stored one.
	ErrStale = errors.New("stale snapshot")
)

type Store interface {
	Save(ctx context.Context, g *chessdto.GameSnapshot) error
	Load(ctx context.Context, id string) (*chessdto.GameSnapshot, error)
	// Recent lists snapshots newest first; limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]*chessdto.GameSnapshot, error)
	Close() error
}

// Open returns a Redis store for redisURL, or a memory store when it is empty.
func Open(ctx context.Context, redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		obslog.L().Info("gamestore_memory")
		return NewMemory(), nil
	}
	s, err := NewRedis(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("gamestore_redis", zap.String("addr", s.rdb.Options().Addr))
	return s, nil
}

// newer reports whether next may replace prev.
func newer(prev, next *chessdto.GameSnapshot) bool {
	if prev == nil {
		return true
	}
	if prev.Finished() && !next.Finished() {
		return false
	}
	return len(next.MovesUCI) >= len(prev.MovesUCI)
}
