package alerts

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/riskscope/internal/pagination"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*Alert)}
}

func (m *MemoryStore) Save(_ context.Context, alerts ...*Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		m.alerts[a.ID] = clone(a)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *MemoryStore) ListActive(_ context.Context, entityID string) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Alert
	for _, a := range m.alerts {
		if a.EntityID == entityID && a.Active {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) List(_ context.Context, entityID string, opts ListOptions) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Alert
	for _, a := range m.alerts {
		if a.EntityID != entityID || (!a.Active && !opts.IncludeInactive) {
			continue
		}
		if opts.Before != nil && !olderThan(a, opts.Before) {
			continue
		}
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountActive(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, a := range m.alerts {
		if a.Active {
			n++
		}
	}
	return n, nil
}

// olderThan reports whether a sorts after the cursor in newest-first order.
func olderThan(a *Alert, c *pagination.Cursor) bool {
	if a.CreatedAt.Equal(c.CreatedAt) {
		return a.ID < c.ID
	}
	return a.CreatedAt.Before(c.CreatedAt)
}

func clone(a *Alert) *Alert {
	cp := *a
	cp.Recommendations = append([]string(nil), a.Recommendations...)
	if a.DeactivatedAt != nil {
		t := *a.DeactivatedAt
		cp.DeactivatedAt = &t
	}
	return &cp
}
