package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ingestd/internal/model"
)

const (
	DefaultQueueSize    = 256
	DefaultQueueTimeout = 10 * time.Second
)

var (
	ErrQueueFull   = errors.New("forward queue full")
	ErrQueueClosed = errors.New("forward queue closed")
)

// QueuedSink moves forwarding off the caller's goroutine. Batches go into a bounded queue drained by one
// worker, each remote write is bounded by timeout, and a full queue drops the batch.
type QueuedSink struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	queue   chan model.ScrapeOutcome
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewQueuedSink(sink Sink, size int, timeout time.Duration, logger *slog.Logger) *QueuedSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &QueuedSink{
		sink:    sink,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan model.ScrapeOutcome, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *QueuedSink) WriteMetrics(_ context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	return q.enqueue(model.ScrapeOutcome{Kind: model.OutcomeMetrics, Metrics: metrics})
}

func (q *QueuedSink) WriteState(_ context.Context, entries []model.StateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return q.enqueue(model.ScrapeOutcome{Kind: model.OutcomeState, State: entries})
}

func (q *QueuedSink) enqueue(o model.ScrapeOutcome) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.queue <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *QueuedSink) Pending() int {
	return len(q.queue)
}

func (q *QueuedSink) Connected() bool {
	return q.sink.Connected()
}

// Close stops accepting batches, waits for the worker to flush or for ctx, then closes the remote sink.
func (q *QueuedSink) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		q.logger.Warn("forward queue not flushed before close", "pending", len(q.queue))
	}
	return q.sink.Close(ctx)
}

func (q *QueuedSink) run() {
	defer close(q.done)
	for o := range q.queue {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		var err error
		if o.Kind == model.OutcomeState {
			err = q.sink.WriteState(ctx, o.State)
		} else {
			err = q.sink.WriteMetrics(ctx, o.Metrics)
		}
		cancel()
		if err != nil {
			q.logger.Warn("forward write failed, batch dropped", "kind", o.Kind, "size", o.Len(), "error", err)
		}
	}
}
