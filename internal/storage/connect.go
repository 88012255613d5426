package storage

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Connector retries an initial connection to an external tier with a fixed wait plus jitter.
type Connector struct {
	Name        string
	RetryWait   time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

// Connect calls dial until it succeeds, ctx ends, or MaxAttempts (when > 0) is spent.
func (c Connector) Connect(ctx context.Context, dial func(ctx context.Context) error) error {
	wait := c.RetryWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := dial(ctx)
		if err == nil {
			logger.Info("store connected", "store", c.Name, "attempt", attempt)
			return nil
		}
		if c.MaxAttempts > 0 && attempt >= c.MaxAttempts {
			return err
		}

		next := wait
		if c.MaxJitter > 0 {
			next += time.Duration(rnd.Int63n(int64(c.MaxJitter)))
		}
		logger.Error("store connect failed", "store", c.Name, "error", err, "retry_in", next)

		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
