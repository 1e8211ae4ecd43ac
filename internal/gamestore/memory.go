package gamestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

// MemoryStore is the fallback when no Redis is configured. Snapshots do not expire.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]*chessdto.GameSnapshot
}

func NewMemory() *MemoryStore {
	return &MemoryStore{games: make(map[string]*chessdto.GameSnapshot)}
}

func (m *MemoryStore) Save(_ context.Context, g *chessdto.GameSnapshot) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return errors.New("save: snapshot without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !newer(m.games[g.ID], g) {
		return ErrStale
	}
	m.games[g.ID] = g.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*chessdto.GameSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]*chessdto.GameSnapshot, error) {
	m.mu.RLock()
	items := make([]*chessdto.GameSnapshot, 0, len(m.games))
	for _, g := range m.games {
		items = append(items, g.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) Close() error { return nil }
