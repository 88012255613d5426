package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	MemoryPath = ":memory:"

	maxOpenConns = 5
	insertChunk  = 100
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		timestamp INTEGER NOT NULL,
		unit TEXT NOT NULL,
		labels TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_source_name_ts ON metrics (source, name, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics (timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		datasource TEXT NOT NULL,
		method TEXT NOT NULL,
		schedule TEXT NOT NULL,
		params TEXT,
		retention_days INTEGER NOT NULL DEFAULT 7,
		enabled INTEGER NOT NULL DEFAULT 1,
		targets TEXT NOT NULL DEFAULT '["metrics"]',
		state_ttl_secs INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_instance_ts ON events (instance_id, timestamp DESC)`,
}

// Store is the embedded durable tier: metric history, job definitions and the event log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates the database file (and parent directory) if needed and applies the schema.
// MemoryPath opens a private in-memory database on a single connection.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn, conns, err := dsnFor(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if path == MemoryPath {
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite store opened", "path", path, "max_conns", conns)
	return s, nil
}

func dsnFor(path string) (string, int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", 0, fmt.Errorf("sqlite path is empty")
	}
	if path == MemoryPath {
		return MemoryPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", 1, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", 0, fmt.Errorf("create sqlite dir %s: %w", dir, err)
		}
	}
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	return path + "?" + pragmas, maxOpenConns, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite health check: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
