package storage

import (
	"context"
	"errors"

	"ingestd/internal/model"
)

// DefaultQueryLimit applies when a range query sets no limit.
const DefaultQueryLimit = 1000

var ErrNotFound = errors.New("not found")

// RangeQuery selects history rows with Start <= timestamp <= End; nil filters match everything.
type RangeQuery struct {
	Source *string
	Name   *string
	Start  int64
	End    int64
	Limit  int
}

func (q RangeQuery) WithDefaults() RangeQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	return q
}

// MetricStore is a durable or external time-series tier.
type MetricStore interface {
	InsertBatch(ctx context.Context, metrics []model.Metric) error
	// GetLatest returns nil, nil when the series has no rows.
	GetLatest(ctx context.Context, source, name string) (*model.Metric, error)
	QueryRange(ctx context.Context, q RangeQuery) ([]model.Metric, error)
	CleanupBefore(ctx context.Context, cutoff int64) (int64, error)
	AvailableMetrics(ctx context.Context) ([]model.MetricKey, error)
	HealthCheck(ctx context.Context) error
}

type JobStore interface {
	CreateJob(ctx context.Context, job model.IngestionJob) (model.JobRecord, error)
	// InsertJobIfNotExists keeps an existing job with the same name and reports whether it inserted.
	InsertJobIfNotExists(ctx context.Context, job model.IngestionJob) (bool, error)
	UpdateJob(ctx context.Context, id int64, job model.IngestionJob) (model.JobRecord, error)
	DeleteJob(ctx context.Context, id int64) error
	GetJob(ctx context.Context, id int64) (model.JobRecord, error)
	ListJobs(ctx context.Context) ([]model.JobRecord, error)
}

type EventStore interface {
	StoreEvent(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, instanceID string, limit int) ([]model.Event, error)
}

// StateStore is the ephemeral tier. Get returns ErrNotFound for missing or expired keys.
type StateStore interface {
	PutState(ctx context.Context, entries []model.StateEntry) error
	GetState(ctx context.Context, key string) (model.StateEntry, error)
	DeleteState(ctx context.Context, key string) error
}
