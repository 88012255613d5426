package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ingestd/internal/model"
	"ingestd/internal/telemetry"
)

// DefaultBuffer is the channel capacity used when New is given a non-positive size.
const DefaultBuffer = 1024

var ErrClosed = errors.New("dispatcher closed")

type MetricsSink interface {
	WriteMetrics(ctx context.Context, metrics []model.Metric) error
}

type StateSink interface {
	WriteState(ctx context.Context, entries []model.StateEntry) error
}

type namedMetricsSink struct {
	name string
	sink MetricsSink
}

type namedStateSink struct {
	name string
	sink StateSink
}

type Option func(*Dispatcher)

func WithMetricsSink(name string, s MetricsSink) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.metricsSinks = append(d.metricsSinks, namedMetricsSink{name: name, sink: s})
		}
	}
}

func WithStateSink(name string, s StateSink) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.stateSinks = append(d.stateSinks, namedStateSink{name: name, sink: s})
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher fans scrape outcomes out to sinks from a single consumer loop.
type Dispatcher struct {
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	metricsSinks []namedMetricsSink
	stateSinks   []namedStateSink

	ch        chan model.ScrapeOutcome
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func New(logger *slog.Logger, buffer int, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		logger: logger,
		ch:     make(chan model.ScrapeOutcome, buffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit blocks while the buffer is full.
func (d *Dispatcher) Submit(ctx context.Context, o model.ScrapeOutcome) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.ch <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting outcomes. Run drains what is already buffered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
	})
}

// Done is closed once Run has drained the channel.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) Pending() int {
	return len(d.ch)
}

// Run consumes until Close has been called and the buffer is empty. ctx is handed to sink writes only.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for o := range d.ch {
		d.dispatch(ctx, o)
	}
	d.logger.Info("dispatcher drained")
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, o model.ScrapeOutcome) {
	switch o.Kind {
	case model.OutcomeMetrics:
		if len(o.Metrics) == 0 {
			return
		}
		for _, s := range d.metricsSinks {
			err := s.sink.WriteMetrics(ctx, o.Metrics)
			d.record(o, s.name, err)
		}
	case model.OutcomeState:
		if len(o.State) == 0 {
			return
		}
		for _, s := range d.stateSinks {
			err := s.sink.WriteState(ctx, o.State)
			d.record(o, s.name, err)
		}
	default:
		d.logger.Warn("dropping outcome of unknown kind", "kind", o.Kind, "job", o.Job)
	}
}

func (d *Dispatcher) record(o model.ScrapeOutcome, sink string, err error) {
	d.metrics.DispatchWrite(string(o.Kind), sink, err == nil)
	if err != nil {
		d.logger.Error("sink write failed, batch dropped", "sink", sink, "kind", o.Kind, "job", o.Job, "count", o.Len(), "error", err)
		return
	}
	d.logger.Debug("batch dispatched", "sink", sink, "kind", o.Kind, "job", o.Job, "count", o.Len())
}
