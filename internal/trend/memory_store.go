package trend

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string][]Point
}

// NewMemoryStore creates an in-memory trend store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string][]Point)}
}

func (m *MemoryStore) Upsert(_ context.Context, p Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	series := m.points[p.EntityID]
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(p.Timestamp)
	})
	if i < len(series) && series[i].Timestamp.Equal(p.Timestamp) {
		series[i] = clonePoint(p)
		return nil
	}
	series = append(series, Point{})
	copy(series[i+1:], series[i:])
	series[i] = clonePoint(p)
	m.points[p.EntityID] = series
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, entityID string, limit int) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.points[entityID]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]Point, len(series))
	for i, p := range series {
		out[i] = clonePoint(p)
	}
	return out, nil
}

func clonePoint(p Point) Point {
	if p.Categories != nil {
		cats := make(map[string]float64, len(p.Categories))
		for k, v := range p.Categories {
			cats[k] = v
		}
		p.Categories = cats
	}
	return p
}
