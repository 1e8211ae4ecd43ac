package gamestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := NewRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func snap(id string, moves []string, status chessdto.Status, at time.Time) *chessdto.GameSnapshot {
	return &chessdto.GameSnapshot{
		ID:        id,
		MovesUCI:  moves,
		Status:    status,
		WhiteName: "alice",
		BlackName: "bob",
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0).UTC()

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Save(ctx, snap("g1", []string{"e2e4"}, chessdto.StatusActive, t0)); err != nil {
		t.Fatalf("Save g1: %v", err)
	}
	if err := s.Save(ctx, snap("g1", []string{"e2e4", "e7e5"}, chessdto.StatusActive, t0.Add(time.Second))); err != nil {
		t.Fatalf("Save g1 update: %v", err)
	}
	if err := s.Save(ctx, snap("g1", []string{"e2e4"}, chessdto.StatusActive, t0)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for shorter history, got %v", err)
	}
	if err := s.Save(ctx, snap("g1", []string{"e2e4", "e7e5"}, chessdto.StatusFinished, t0.Add(2*time.Second))); err != nil {
		t.Fatalf("Save finished: %v", err)
	}
	if err := s.Save(ctx, snap("g1", []string{"e2e4", "e7e5", "g1f3"}, chessdto.StatusActive, t0.Add(3*time.Second))); !errors.Is(err, ErrStale) {
		t.Fatalf("finished game reopened, err = %v", err)
	}

	g, err := s.Load(ctx, "g1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Status != chessdto.StatusFinished || len(g.MovesUCI) != 2 || g.WhiteName != "alice" {
		t.Fatalf("unexpected snapshot %+v", g)
	}

	if err := s.Save(ctx, snap("g2", nil, chessdto.StatusActive, t0.Add(time.Minute))); err != nil {
		t.Fatalf("Save g2: %v", err)
	}
	list, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(list) != 2 || list[0].ID != "g2" || list[1].ID != "g1" {
		t.Fatalf("recent order wrong: %d items", len(list))
	}
	if list, _ := s.Recent(ctx, 1); len(list) != 1 {
		t.Fatalf("limit ignored: %d", len(list))
	}
	if err := s.Save(ctx, &chessdto.GameSnapshot{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedis(t)
	exerciseStore(t, s)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedisSnapshotTTL(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	if err := s.Save(ctx, snap("ttl", nil, chessdto.StatusActive, time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL(gameKey("ttl")); ttl != snapshotTTL {
		t.Fatalf("ttl = %v", ttl)
	}
	mr.FastForward(snapshotTTL + time.Second)
	if _, err := s.Load(ctx, "ttl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	list, err := s.Recent(ctx, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("expired snapshot listed: %v %d", err, len(list))
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}
	if _, err := Open(context.Background(), "http://nope"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
