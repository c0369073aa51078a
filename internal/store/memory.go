package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/chess-rooms/internal/game"
)

// MemoryStore is a process-local Store for tests and single-process dev runs.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*game.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*game.Record)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*game.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Create(ctx context.Context, rec *game.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.recs[rec.ID]; exists {
		return ErrExists
	}
	m.recs[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, rec *game.Record, expected int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[rec.ID]
	if !ok {
		return false, game.ErrNotFound
	}
	if cur.Version != expected {
		return false, nil
	}
	m.recs[rec.ID] = rec.Clone()
	return true, nil
}

func (m *MemoryStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return m.scan(limit, func(rec *game.Record) (time.Time, bool) {
		at := rec.LastActive()
		return at, !rec.Status.Terminal() && at.Before(before)
	}), nil
}

func (m *MemoryStore) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return m.scan(limit, func(rec *game.Record) (time.Time, bool) {
		at := rec.HoldDeadline()
		return at, !at.IsZero() && !at.After(before)
	}), nil
}

// scan returns matching ids ordered by the key match reports.
func (m *MemoryStore) scan(limit int, match func(*game.Record) (time.Time, bool)) []string {
	type item struct {
		id string
		at time.Time
	}
	m.mu.RLock()
	items := make([]item, 0)
	for _, rec := range m.recs {
		if at, ok := match(rec); ok {
			items = append(items, item{id: rec.ID, at: at})
		}
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.id)
	}
	return ids
}

func (m *MemoryStore) Close() error { return nil }
