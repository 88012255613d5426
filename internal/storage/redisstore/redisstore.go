package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ingestd/internal/model"
	"ingestd/internal/storage"
)

// DefaultTTL applies to entries that carry no TTL of their own.
const DefaultTTL = 15 * time.Minute

type Options struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
	Connector  storage.Connector
}

// Store keeps state snapshots in Redis with per-key expiry.
type Store struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *slog.Logger
}

func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	connector := opts.Connector
	connector.Name = "redis"
	if connector.Logger == nil {
		connector.Logger = logger
	}
	if err := connector.Connect(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newStore(client, opts.DefaultTTL, logger), nil
}

func newStore(client *redis.Client, defaultTTL time.Duration, logger *slog.Logger) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store{client: client, defaultTTL: defaultTTL, logger: logger}
}

func (s *Store) ttlFor(e model.StateEntry) time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return s.defaultTTL
}

func (s *Store) PutState(ctx context.Context, entries []model.StateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, e.Key, []byte(e.Value), s.ttlFor(e))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %d state entries: %w", len(entries), err)
	}
	return nil
}

// WriteState lets the store act as a dispatcher sink.
func (s *Store) WriteState(ctx context.Context, entries []model.StateEntry) error {
	return s.PutState(ctx, entries)
}

func (s *Store) GetState(ctx context.Context, key string) (model.StateEntry, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.StateEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return model.StateEntry{}, fmt.Errorf("get state %s: %w", key, err)
	}
	entry := model.StateEntry{Key: key, Value: raw}
	if ttl, err := s.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		entry.TTL = ttl
	}
	return entry, nil
}

func (s *Store) DeleteState(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// Keys lists keys matching a glob pattern without blocking the server.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan state keys: %w", err)
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
