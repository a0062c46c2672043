package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mbd888/riskscope/internal/risk"
)

// StaticSource is an in-memory DataSource. It serves the metrics most
// recently recorded for each entity.
type StaticSource struct {
	mu      sync.RWMutex
	metrics map[string][]risk.Metric
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{metrics: make(map[string][]risk.Metric)}
}

// RecordMetrics replaces the metrics held for an entity.
func (s *StaticSource) RecordMetrics(_ context.Context, entityID string, ms []risk.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[entityID] = append([]risk.Metric(nil), ms...)
	return nil
}

func (s *StaticSource) FetchMetrics(ctx context.Context, entityID string) ([]risk.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.metrics[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrUnknownEntity)
	}
	return append([]risk.Metric(nil), ms...), nil
}

func (s *StaticSource) ListEntities(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.metrics))
	for id := range s.metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
