package history

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

// Memory is a development-only repository used when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	byGame map[string]*chessdto.GameResult
}

func NewMemory() *Memory {
	return &Memory{byGame: make(map[string]*chessdto.GameResult)}
}

func (m *Memory) SaveResult(_ context.Context, g *chessdto.GameSnapshot, method string) error {
	if g == nil {
		return nil
	}
	res := ResultOf(g, method)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byGame[g.ID]; ok {
		res.ID = prev.ID
	} else {
		m.nextID++
		res.ID = m.nextID
	}
	m.byGame[g.ID] = res
	return nil
}

func (m *Memory) Get(_ context.Context, gameID string) (*chessdto.GameResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.byGame[gameID]
	if !ok {
		return nil, nil
	}
	c := *res
	return &c, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]*chessdto.GameResult, error) {
	m.mu.RLock()
	items := make([]*chessdto.GameResult, 0, len(m.byGame))
	for _, r := range m.byGame {
		c := *r
		items = append(items, &c)
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) Close() error { return nil }
