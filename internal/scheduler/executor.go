package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ingestd/internal/datasource"
	"ingestd/internal/model"
	"ingestd/internal/telemetry"
)

type Resolver interface {
	Resolve(source, method string) (datasource.Handler, error)
}

type Submitter interface {
	Submit(ctx context.Context, o model.ScrapeOutcome) error
}

type EventRecorder interface {
	StoreEvent(ctx context.Context, ev model.Event) error
}

// Executor runs one fetch and hands the results to the dispatcher.
type Executor struct {
	resolver   Resolver
	submitter  Submitter
	events     EventRecorder
	instanceID string
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	onResult   func(job string, err error)
}

func NewExecutor(resolver Resolver, submitter Submitter, events EventRecorder, instanceID string, logger *slog.Logger, metrics *telemetry.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver:   resolver,
		submitter:  submitter,
		events:     events,
		instanceID: instanceID,
		logger:     logger,
		metrics:    metrics,
	}
}

// OnResult registers a hook called after every execution.
func (e *Executor) OnResult(fn func(job string, err error)) {
	e.onResult = fn
}

func (e *Executor) Execute(ctx context.Context, job model.IngestionJob) error {
	start := time.Now()
	err := e.execute(ctx, job)
	took := time.Since(start)

	e.metrics.JobRun(job.Name, err == nil, took)
	if e.onResult != nil {
		e.onResult(job.Name, err)
	}
	if err != nil {
		e.logger.Error("job execution failed", "job", job.Name, "datasource", job.DataSource, "method", job.Method, "error", err)
		recordEvent(ctx, e.events, e.logger, model.NewEvent(e.instanceID, model.EventTaskFailed,
			fmt.Sprintf("job %s failed", job.Name), map[string]any{"job": job.Name, "error": err.Error()}))
		return err
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, job model.IngestionJob) error {
	handler, err := e.resolver.Resolve(job.DataSource, job.Method)
	if err != nil {
		return err
	}
	res, err := handler(ctx, job.Params)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", job.DataSource, job.Method, err)
	}

	var metrics, state int
	if job.HasTarget(model.TargetMetrics) && len(res.Metrics) > 0 {
		if err := e.submitter.Submit(ctx, model.MetricsOutcome(job.Name, res.Metrics)); err != nil {
			return fmt.Errorf("submit metrics: %w", err)
		}
		metrics = len(res.Metrics)
	}
	if job.HasTarget(model.TargetState) && len(res.State) > 0 {
		entries := withStateTTL(res.State, job.StateTTL())
		if err := e.submitter.Submit(ctx, model.StateOutcome(job.Name, entries)); err != nil {
			return fmt.Errorf("submit state: %w", err)
		}
		state = len(entries)
	}

	e.logger.Debug("job executed", "job", job.Name, "metrics", metrics, "state", state)
	recordEvent(ctx, e.events, e.logger, model.NewEvent(e.instanceID, model.EventTaskExecuted,
		fmt.Sprintf("job %s executed", job.Name), map[string]any{"job": job.Name, "metrics": metrics, "state": state}))
	return nil
}

// withStateTTL fills ttl into entries that carry none. The input slice is not modified.
func withStateTTL(entries []model.StateEntry, ttl time.Duration) []model.StateEntry {
	out := make([]model.StateEntry, len(entries))
	copy(out, entries)
	if ttl <= 0 {
		return out
	}
	for i := range out {
		if out[i].TTL == 0 {
			out[i].TTL = ttl
		}
	}
	return out
}

func recordEvent(ctx context.Context, events EventRecorder, logger *slog.Logger, ev model.Event) {
	if events == nil {
		return
	}
	if err := events.StoreEvent(ctx, ev); err != nil {
		logger.Warn("event write failed", "event_type", ev.Type, "error", err)
	}
}
