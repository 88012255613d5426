package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ingestd/internal/config"
	"ingestd/internal/model"
)

func (c *Coordinator) run(ctx context.Context) error {
	if err := c.startup(ctx); err != nil {
		c.dispatcher.Close()
		_ = c.dispatcher.Run(context.Background())
		return fmt.Errorf("startup: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.dispatcher.Run(context.Background())
	})
	g.Go(func() error {
		return c.api.Run(gctx)
	})
	g.Go(func() error {
		return c.runHealthLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.drain()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Coordinator) startup(ctx context.Context) error {
	if c.cfg.JobsDir != "" {
		jobs, err := config.LoadJobsDir(c.cfg.JobsDir)
		if err != nil {
			return err
		}
		n, err := c.jobs.Seed(ctx, jobs)
		if err != nil {
			return err
		}
		c.logger.Info("jobs seeded from directory", "dir", c.cfg.JobsDir, "found", len(jobs), "inserted", n)
	}

	if _, err := c.scheduler.LoadFromStore(ctx); err != nil {
		return err
	}
	if err := c.scheduler.AddSystemJob("retention-cleanup", c.cfg.CleanupInterval, c.cleanup); err != nil {
		return err
	}
	if err := c.scheduler.AddSystemJob("metadata-refresh", c.cfg.MetadataRefreshInterval, c.refreshMetadata); err != nil {
		return err
	}
	c.refreshMetadata(ctx)
	c.health.SetStoreHealthy(true)
	c.scheduler.Start()

	c.event(ctx, model.EventServiceStart, "ingestd started", map[string]any{"version": c.cfg.Version, "backend": c.cfg.StorageBackend})
	return nil
}

// drain stops new fires, waits for in-flight ones, then lets the dispatcher empty its buffer.
func (c *Coordinator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()
	if err := c.scheduler.Stop(ctx); err != nil {
		c.logger.Warn("scheduler stop incomplete", "error", err)
	}
	c.dispatcher.Close()
	c.logger.Info("dispatcher closed, draining", "pending", c.dispatcher.Pending())
}

func (c *Coordinator) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Unix() - int64(c.cfg.RetentionDays)*86400
	n, err := c.tiered.CleanupBefore(ctx, cutoff)
	if err != nil {
		c.logger.Error("retention cleanup failed", "cutoff", cutoff, "error", err)
		return
	}
	c.metrics.CleanupDeleted(n)
	c.logger.Info("retention cleanup completed", "cutoff", cutoff, "deleted", n)
	c.event(ctx, model.EventCleanupCompleted, fmt.Sprintf("deleted %d metric rows", n), map[string]any{"cutoff": cutoff, "deleted": n})
}

func (c *Coordinator) refreshMetadata(ctx context.Context) {
	n, err := c.meta.Refresh(ctx, c.tiered)
	if err != nil {
		c.logger.Warn("metadata refresh failed", "error", err)
		return
	}
	c.logger.Debug("metadata refreshed", "series", n)
}

func (c *Coordinator) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(healthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.checkHealth(ctx)
		}
	}
}

func (c *Coordinator) checkHealth(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := c.tiered.HealthCheck(checkCtx)
	if err == nil && c.redis != nil {
		err = c.redis.HealthCheck(checkCtx)
	}
	if err != nil {
		c.logger.Warn("store health check failed", "error", err)
		c.health.SetStoreHealthy(false)
		return
	}
	c.health.SetStoreHealthy(true)
	if c.sink != nil {
		c.health.SetStreamConnected(c.sink.Connected())
	}
	c.logger.Debug("ingestd health", "snapshot", c.health.Snapshot())
}

func (c *Coordinator) shutdown(ctx context.Context) {
	// Run may return here without drain having run when a second signal forces shutdown.
	c.dispatcher.Close()
	select {
	case <-c.dispatcher.Done():
	case <-ctx.Done():
		c.logger.Warn("dispatcher did not drain before shutdown deadline", "pending", c.dispatcher.Pending())
	}

	c.event(ctx, model.EventServiceStop, "ingestd stopped", nil)
	if c.sink != nil {
		if err := c.sink.Close(ctx); err != nil {
			c.logger.Warn("stream sink close failed", "error", err)
		}
		c.health.SetStreamConnected(false)
	}
	c.closeStores()
	c.health.SetStoreHealthy(false)
}

func (c *Coordinator) closeStores() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn("redis close failed", "error", err)
		}
	}
	if c.timescale != nil {
		c.timescale.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("durable store close failed", "error", err)
		}
	}
}

func (c *Coordinator) event(ctx context.Context, typ model.EventType, msg string, payload any) {
	if err := c.store.StoreEvent(ctx, model.NewEvent(c.cfg.InstanceID, typ, msg, payload)); err != nil {
		c.logger.Warn("event write failed", "event_type", typ, "error", err)
	}
}
