package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ingestd/internal/apperr"
	"ingestd/internal/model"
)

const jobColumns = "id, name, datasource, method, schedule, params, retention_days, enabled, targets, state_ttl_secs, created_at, updated_at"

type jobRow struct {
	schedule string
	params   sql.NullString
	targets  string
}

func encodeJob(job model.IngestionJob) (jobRow, error) {
	sched, err := json.Marshal(job.Schedule)
	if err != nil {
		return jobRow{}, fmt.Errorf("encode schedule: %w", err)
	}
	targets := job.Targets
	if len(targets) == 0 {
		targets = []model.Target{model.TargetMetrics}
	}
	tb, err := json.Marshal(targets)
	if err != nil {
		return jobRow{}, fmt.Errorf("encode targets: %w", err)
	}
	row := jobRow{schedule: string(sched), targets: string(tb)}
	if len(job.Params) > 0 {
		row.params = sql.NullString{String: string(job.Params), Valid: true}
	}
	return row, nil
}

func (s *Store) CreateJob(ctx context.Context, job model.IngestionJob) (model.JobRecord, error) {
	row, err := encodeJob(job)
	if err != nil {
		return model.JobRecord{}, err
	}
	now := s.now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, datasource, method, schedule, params, retention_days, enabled, targets, state_ttl_secs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.DataSource, job.Method, row.schedule, row.params, job.RetentionDays, job.Enabled, row.targets, job.StateTTLSecs, now, now)
	if err != nil {
		return model.JobRecord{}, mapJobErr(job.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("job id: %w", err)
	}
	return s.GetJob(ctx, id)
}

func (s *Store) InsertJobIfNotExists(ctx context.Context, job model.IngestionJob) (bool, error) {
	row, err := encodeJob(job)
	if err != nil {
		return false, err
	}
	now := s.now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, datasource, method, schedule, params, retention_days, enabled, targets, state_ttl_secs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		job.Name, job.DataSource, job.Method, row.schedule, row.params, job.RetentionDays, job.Enabled, row.targets, job.StateTTLSecs, now, now)
	if err != nil {
		return false, fmt.Errorf("seed job %q: %w", job.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) UpdateJob(ctx context.Context, id int64, job model.IngestionJob) (model.JobRecord, error) {
	row, err := encodeJob(job)
	if err != nil {
		return model.JobRecord{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name = ?, datasource = ?, method = ?, schedule = ?, params = ?, retention_days = ?,
		 enabled = ?, targets = ?, state_ttl_secs = ?, updated_at = ? WHERE id = ?`,
		job.Name, job.DataSource, job.Method, row.schedule, row.params, job.RetentionDays,
		job.Enabled, row.targets, job.StateTTLSecs, s.now().UTC().Unix(), id)
	if err != nil {
		return model.JobRecord{}, mapJobErr(job.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.JobRecord{}, apperr.NotFound("job %d not found", id)
	}
	return s.GetJob(ctx, id)
}

func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("job %d not found", id)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (model.JobRecord, error) {
	rec, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobRecord{}, apperr.NotFound("job %d not found", id)
	}
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return rec, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanJob(sc scanner) (model.JobRecord, error) {
	var (
		rec                  model.JobRecord
		sched, targets       string
		params               sql.NullString
		enabled              int64
		createdAt, updatedAt int64
	)
	err := sc.Scan(&rec.ID, &rec.Job.Name, &rec.Job.DataSource, &rec.Job.Method, &sched, &params,
		&rec.Job.RetentionDays, &enabled, &targets, &rec.Job.StateTTLSecs, &createdAt, &updatedAt)
	if err != nil {
		return model.JobRecord{}, err
	}
	if err := json.Unmarshal([]byte(sched), &rec.Job.Schedule); err != nil {
		return model.JobRecord{}, fmt.Errorf("decode schedule of job %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &rec.Job.Targets); err != nil {
		return model.JobRecord{}, fmt.Errorf("decode targets of job %d: %w", rec.ID, err)
	}
	if params.Valid && params.String != "" {
		rec.Job.Params = json.RawMessage(params.String)
	}
	rec.Job.Enabled = enabled != 0
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return rec, nil
}

func mapJobErr(name string, err error) error {
	var se *sqlitedrv.Error
	if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")) {
		return apperr.New(apperr.KindConflict, fmt.Sprintf("job %q already exists", name), err)
	}
	return fmt.Errorf("write job %q: %w", name, err)
}
