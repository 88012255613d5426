package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ingestd/internal/api"
	"ingestd/internal/cache"
	"ingestd/internal/config"
	"ingestd/internal/datasource"
	"ingestd/internal/dispatch"
	"ingestd/internal/fetch"
	"ingestd/internal/jobctl"
	"ingestd/internal/scheduler"
	"ingestd/internal/storage"
	"ingestd/internal/storage/redisstore"
	"ingestd/internal/storage/sqlite"
	"ingestd/internal/storage/timescale"
	"ingestd/internal/stream"
	"ingestd/internal/telemetry"
)

const healthInterval = 30 * time.Second

// Coordinator owns every long-lived component and drives startup and shutdown.
type Coordinator struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	health  *HealthStatus

	store      *sqlite.Store
	durable    storage.MetricStore
	timescale  *timescale.Store
	redis      *redisstore.Store
	tiered     *storage.Tiered
	meta       *storage.MetadataCache
	sink       stream.Sink
	registry   *datasource.Registry
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	jobs       *jobctl.Service
	api        *api.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Coordinator, error) {
	c := &Coordinator{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.New(),
		health:  NewHealthStatus(),
		meta:    storage.NewMetadataCache(),
	}
	if err := c.openStores(ctx); err != nil {
		c.closeStores()
		return nil, err
	}

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("tls config: %w", err)
	}
	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	c.tiered = storage.NewTiered(cache.NewMemory(cfg.CacheMaxEntries, cfg.CacheTTL), c.durable, logger)
	c.registry = c.buildRegistry()

	opts := []dispatch.Option{
		dispatch.WithMetrics(c.metrics),
		dispatch.WithMetricsSink("local", &healthMetricsSink{sink: c.tiered, health: c.health}),
	}
	if c.redis != nil {
		opts = append(opts, dispatch.WithStateSink("redis", &healthStateSink{sink: c.redis, health: c.health}))
	}
	if sink != nil {
		wrapped := &healthStreamSink{sink: sink, health: c.health}
		c.sink = wrapped
		opts = append(opts, dispatch.WithMetricsSink("forward", wrapped), dispatch.WithStateSink("forward", wrapped))
	}
	c.dispatcher = dispatch.New(logger, cfg.DispatchBuffer, opts...)

	exec := scheduler.NewExecutor(c.registry, c.dispatcher, c.store, cfg.InstanceID, logger, c.metrics)
	exec.OnResult(c.health.RecordFire)
	c.scheduler = scheduler.New(scheduler.Options{
		Executor:   exec,
		Validator:  c.registry,
		Jobs:       c.store,
		Events:     c.store,
		InstanceID: cfg.InstanceID,
		Logger:     logger,
	})
	c.jobs = jobctl.NewService(c.store, c.store, c.scheduler, c.registry, cfg.InstanceID, logger)

	deps := api.Deps{
		Jobs:     c.jobs,
		Metrics:  c.tiered,
		Metadata: c.meta,
		Events:   c.store,
		Sources:  c.registry,
		Health:   c.healthSnapshot,
		Registry: c.metrics.Registry,
		Logger:   logger,
	}
	if c.redis != nil {
		deps.State = c.redis
	}
	c.api = api.NewServer(cfg.HTTPAddr, deps)
	c.registerGauges()
	return c, nil
}

func (c *Coordinator) openStores(ctx context.Context) error {
	store, err := sqlite.Open(ctx, c.cfg.SQLitePath, c.logger)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	c.store = store
	c.durable = store

	connector := storage.Connector{
		RetryWait:   c.cfg.ReconnectInterval,
		MaxJitter:   c.cfg.MaxReconnectJitter,
		MaxAttempts: 5,
		Logger:      c.logger,
	}
	if c.cfg.StorageBackend == config.BackendExternal {
		ts, err := timescale.Open(ctx, timescale.Options{URL: c.cfg.TimescaleURL, Connector: connector}, c.logger)
		if err != nil {
			return fmt.Errorf("open timescale: %w", err)
		}
		c.timescale = ts
		c.durable = ts
	}
	if c.cfg.RedisAddr != "" {
		rs, err := redisstore.Open(ctx, redisstore.Options{
			Addr:       c.cfg.RedisAddr,
			Password:   c.cfg.RedisPassword,
			DB:         c.cfg.RedisDB,
			DefaultTTL: c.cfg.StateDefaultTTL,
			Connector:  connector,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		c.redis = rs
	}
	return nil
}

func (c *Coordinator) buildRegistry() *datasource.Registry {
	client := func(source string) *fetch.Client {
		return fetch.New(source, c.cfg.HTTPClient(source), c.logger, c.metrics)
	}
	return datasource.NewRegistry(
		datasource.NewAlternativeMe(client(datasource.AlternativeMeName), c.cfg.BaseURL(datasource.AlternativeMeName)),
		datasource.NewPolymarket(client(datasource.PolymarketName), c.cfg.BaseURL(datasource.PolymarketName), fetch.DefaultRetryPolicy()),
	)
}

func (c *Coordinator) registerGauges() {
	c.metrics.Gauge("cache_entries", "Entries in the latest-value cache.", func() float64 {
		return float64(c.tiered.CacheStats().EntryCount)
	})
	c.metrics.Gauge("cache_weighted_bytes", "Approximate heap bytes held by the latest-value cache.", func() float64 {
		return float64(c.tiered.CacheStats().WeightedSize)
	})
	c.metrics.Gauge("scheduler_armed_jobs", "Jobs currently armed on the scheduler.", func() float64 {
		return float64(len(c.scheduler.Armed()))
	})
	c.metrics.Gauge("dispatch_pending", "Outcomes waiting in the dispatcher buffer.", func() float64 {
		return float64(c.dispatcher.Pending())
	})
}

func (c *Coordinator) healthSnapshot() any {
	out := c.health.Snapshot()
	out["instance_id"] = c.cfg.InstanceID
	out["version"] = c.cfg.Version
	out["armed_jobs"] = len(c.scheduler.Armed())
	return out
}

func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("starting ingestd", "instance_id", c.cfg.InstanceID, "backend", c.cfg.StorageBackend, "http_addr", c.cfg.HTTPAddr)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- c.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		c.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", c.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(c.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			c.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			c.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", c.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancelShutdown()
	c.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	c.logger.Info("ingestd stopped")
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}
