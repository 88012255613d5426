package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ingestd/internal/model"
	"ingestd/internal/storage"
)

// InsertBatch appends metrics in chunks inside one transaction.
func (s *Store) InsertBatch(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := s.now().UTC().Unix()
	for start := 0; start < len(metrics); start += insertChunk {
		end := min(start+insertChunk, len(metrics))
		chunk := metrics[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO metrics (source, name, value, timestamp, unit, labels, created_at) VALUES ")
		args := make([]any, 0, len(chunk)*7)
		for i, m := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, m.Source, m.Name, m.Value, m.Timestamp, string(m.Unit), m.LabelsJSON(), createdAt)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert metrics chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

const metricColumns = "source, name, value, timestamp, unit, labels"

func (s *Store) GetLatest(ctx context.Context, source, name string) (*model.Metric, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+metricColumns+" FROM metrics WHERE source = ? AND name = ? ORDER BY timestamp DESC, id DESC LIMIT 1",
		source, name)
	m, err := scanMetric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest metric: %w", err)
	}
	return &m, nil
}

// QueryRange returns rows newest first.
func (s *Store) QueryRange(ctx context.Context, q storage.RangeQuery) ([]model.Metric, error) {
	q = q.WithDefaults()
	query := "SELECT " + metricColumns + " FROM metrics WHERE timestamp >= ? AND timestamp <= ?"
	args := []any{q.Start, q.End}
	if q.Source != nil {
		query += " AND source = ?"
		args = append(args, *q.Source)
	}
	if q.Name != nil {
		query += " AND name = ?"
		args = append(args, *q.Name)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx, "DELETE FROM metrics WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old metrics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) AvailableMetrics(ctx context.Context) ([]model.MetricKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT source, name FROM metrics ORDER BY source, name")
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

type scanner interface {
	Scan(dest ...any) error
}

func scanMetric(sc scanner) (model.Metric, error) {
	var (
		m      model.Metric
		unit   string
		labels string
	)
	if err := sc.Scan(&m.Source, &m.Name, &m.Value, &m.Timestamp, &unit, &labels); err != nil {
		return model.Metric{}, err
	}
	m.Unit = model.MetricUnit(unit)
	m.Labels = model.ParseLabels(labels)
	return m, nil
}
