package storage

import (
	"context"
	"sync"
	"time"

	"ingestd/internal/model"
)

type metricLister interface {
	AvailableMetrics(ctx context.Context) ([]model.MetricKey, error)
}

// MetadataCache holds the last computed list of distinct series, swapped whole on refresh.
type MetadataCache struct {
	mu          sync.RWMutex
	keys        []model.MetricKey
	refreshedAt time.Time
}

func NewMetadataCache() *MetadataCache {
	return &MetadataCache{}
}

func (m *MetadataCache) Refresh(ctx context.Context, src metricLister) (int, error) {
	keys, err := src.AvailableMetrics(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.keys = keys
	m.refreshedAt = time.Now().UTC()
	m.mu.Unlock()
	return len(keys), nil
}

// Snapshot returns a copy so callers cannot race the next refresh.
func (m *MetadataCache) Snapshot() ([]model.MetricKey, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.MetricKey(nil), m.keys...), m.refreshedAt
}
