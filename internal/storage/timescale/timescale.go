package timescale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingestd/internal/model"
	"ingestd/internal/storage"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metrics (
		time TIMESTAMPTZ NOT NULL,
		source TEXT NOT NULL,
		name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		unit TEXT NOT NULL,
		labels JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`DO $$
	BEGIN
		IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb') THEN
			PERFORM create_hypertable('metrics', 'time', if_not_exists => TRUE);
		END IF;
	END
	$$`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_source_name_time ON metrics (source, name, time DESC)`,
}

var columns = []string{"time", "source", "name", "value", "unit", "labels"}

// Store is the external time-series tier backed by TimescaleDB (plain Postgres works without
// the hypertable).
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

type Options struct {
	URL       string
	MaxConns  int32
	Connector storage.Connector
}

func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse timescale url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	var pool *pgxpool.Pool
	connector := opts.Connector
	connector.Name = "timescale"
	if connector.Logger == nil {
		connector.Logger = logger
	}
	err = connector.Connect(ctx, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect timescale: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply timescale schema: %w", err)
		}
	}
	return s, nil
}

func (s *Store) InsertBatch(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"metrics"}, columns,
		pgx.CopyFromSlice(len(metrics), func(i int) ([]any, error) {
			m := metrics[i]
			return []any{time.Unix(m.Timestamp, 0).UTC(), m.Source, m.Name, m.Value, string(m.Unit), m.LabelsJSON()}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy metrics: %w", err)
	}
	return nil
}

// WriteMetrics lets the store act as a dispatcher sink.
func (s *Store) WriteMetrics(ctx context.Context, metrics []model.Metric) error {
	return s.InsertBatch(ctx, metrics)
}

const selectMetric = "SELECT time, source, name, value, unit, labels::text FROM metrics"

func (s *Store) GetLatest(ctx context.Context, source, name string) (*model.Metric, error) {
	row := s.pool.QueryRow(ctx, selectMetric+" WHERE source = $1 AND name = $2 ORDER BY time DESC LIMIT 1", source, name)
	m, err := scanMetric(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest metric: %w", err)
	}
	return &m, nil
}

func (s *Store) QueryRange(ctx context.Context, q storage.RangeQuery) ([]model.Metric, error) {
	q = q.WithDefaults()
	query := selectMetric + " WHERE time >= $1 AND time <= $2"
	args := []any{time.Unix(q.Start, 0).UTC(), time.Unix(q.End, 0).UTC()}
	if q.Source != nil {
		args = append(args, *q.Source)
		query += " AND source = $" + strconv.Itoa(len(args))
	}
	if q.Name != nil {
		args = append(args, *q.Name)
		query += " AND name = $" + strconv.Itoa(len(args))
	}
	args = append(args, q.Limit)
	query += " ORDER BY time DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics range: %w", err)
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CleanupBefore(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM metrics WHERE time < $1", time.Unix(cutoff, 0).UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) AvailableMetrics(ctx context.Context) ([]model.MetricKey, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT source, name FROM metrics ORDER BY source, name")
	if err != nil {
		return nil, fmt.Errorf("list available metrics: %w", err)
	}
	defer rows.Close()

	var out []model.MetricKey
	for rows.Next() {
		var k model.MetricKey
		if err := rows.Scan(&k.Source, &k.Name); err != nil {
			return nil, fmt.Errorf("scan metric key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("timescale health check: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func scanMetric(row pgx.Row) (model.Metric, error) {
	var (
		m      model.Metric
		at     time.Time
		unit   string
		labels string
	)
	if err := row.Scan(&at, &m.Source, &m.Name, &m.Value, &unit, &labels); err != nil {
		return model.Metric{}, err
	}
	m.Timestamp = at.Unix()
	m.Unit = model.MetricUnit(unit)
	m.Labels = model.ParseLabels(labels)
	return m, nil
}
