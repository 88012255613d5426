package storage

import (
	"context"
	"fmt"
	"log/slog"

	"ingestd/internal/apperr"
	"ingestd/internal/cache"
	"ingestd/internal/model"
)

// Tiered composes the memory cache with a durable MetricStore. Writes go to both tiers with the
// durable tier authoritative; latest-value reads try the cache first.
type Tiered struct {
	cache   *cache.Memory
	durable MetricStore
	logger  *slog.Logger
}

func NewTiered(c *cache.Memory, durable MetricStore, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{cache: c, durable: durable, logger: logger}
}

func (t *Tiered) Store(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	t.cache.PutBatch(metrics)
	if err := t.durable.InsertBatch(ctx, metrics); err != nil {
		return apperr.New(apperr.KindDurableWrite, fmt.Sprintf("insert %d metrics", len(metrics)), err)
	}
	return nil
}

// WriteMetrics lets the facade act as a dispatcher sink.
func (t *Tiered) WriteMetrics(ctx context.Context, metrics []model.Metric) error {
	return t.Store(ctx, metrics)
}

// GetLatest never populates the cache on a durable hit.
func (t *Tiered) GetLatest(ctx context.Context, source, name string) (*model.Metric, error) {
	if m, ok := t.cache.Get(source, name); ok {
		return &m, nil
	}
	m, err := t.durable.GetLatest(ctx, source, name)
	if err != nil {
		return nil, fmt.Errorf("get latest %s: %w", model.KeyOf(source, name), err)
	}
	return m, nil
}

func (t *Tiered) QueryRange(ctx context.Context, q RangeQuery) ([]model.Metric, error) {
	q = q.WithDefaults()
	if q.End < q.Start {
		return nil, apperr.Validation("range end %d is before start %d", q.End, q.Start)
	}
	return t.durable.QueryRange(ctx, q)
}

func (t *Tiered) CleanupBefore(ctx context.Context, cutoff int64) (int64, error) {
	n, err := t.durable.CleanupBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup before %d: %w", cutoff, err)
	}
	return n, nil
}

func (t *Tiered) AvailableMetrics(ctx context.Context) ([]model.MetricKey, error) {
	return t.durable.AvailableMetrics(ctx)
}

func (t *Tiered) HealthCheck(ctx context.Context) error {
	return t.durable.HealthCheck(ctx)
}

func (t *Tiered) CacheStats() cache.Stats {
	return t.cache.Stats()
}

func (t *Tiered) PurgeCache() {
	t.cache.Purge()
}
