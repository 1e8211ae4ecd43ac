package gamestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

const (
	snapshotTTL = 24 * time.Hour
	indexKey    = "relay:games"
	maxIndexed  = 500
)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Save writes g unless the stored snapshot is newer. The check and the write
// run in one WATCH transaction.
func (s *RedisStore) Save(ctx context.Context, g *chessdto.GameSnapshot) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return errors.New("save: snapshot without id")
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	key := gameKey(g.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		prevRaw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var prev chessdto.GameSnapshot
			if jerr := json.Unmarshal(prevRaw, &prev); jerr == nil && !newer(&prev, g) {
				return ErrStale
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, snapshotTTL)
			pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(g.UpdatedAt.UnixMilli()), Member: g.ID})
			pipe.ZRemRangeByRank(ctx, indexKey, 0, -maxIndexed-1)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent update of %s", ErrStale, g.ID)
	}
	return err
}

func (s *RedisStore) Load(ctx context.Context, id string) (*chessdto.GameSnapshot, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g chessdto.GameSnapshot
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &g, nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]*chessdto.GameSnapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRevRange(ctx, indexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*chessdto.GameSnapshot, 0, len(ids))
	for _, id := range ids {
		g, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// snapshot expired before its index entry
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func gameKey(id string) string { return "relay:game:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
