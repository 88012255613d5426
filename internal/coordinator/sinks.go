package coordinator

import (
	"context"

	"ingestd/internal/dispatch"
	"ingestd/internal/model"
	"ingestd/internal/stream"
)

// healthMetricsSink counts successful batches written through the wrapped sink.
type healthMetricsSink struct {
	sink   dispatch.MetricsSink
	health *HealthStatus
}

func (s *healthMetricsSink) WriteMetrics(ctx context.Context, metrics []model.Metric) error {
	if err := s.sink.WriteMetrics(ctx, metrics); err != nil {
		return err
	}
	s.health.MarkDispatched()
	return nil
}

type healthStateSink struct {
	sink   dispatch.StateSink
	health *HealthStatus
}

func (s *healthStateSink) WriteState(ctx context.Context, entries []model.StateEntry) error {
	if err := s.sink.WriteState(ctx, entries); err != nil {
		return err
	}
	s.health.MarkDispatched()
	return nil
}

// healthStreamSink mirrors the forwarding connection state into the health snapshot.
type healthStreamSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthStreamSink) WriteMetrics(ctx context.Context, metrics []model.Metric) error {
	err := s.sink.WriteMetrics(ctx, metrics)
	s.track(err)
	return err
}

func (s *healthStreamSink) WriteState(ctx context.Context, entries []model.StateEntry) error {
	err := s.sink.WriteState(ctx, entries)
	s.track(err)
	return err
}

// track reads the remote connection flag, since a nil error may only mean the batch was queued.
func (s *healthStreamSink) track(err error) {
	s.health.SetStreamConnected(s.sink.Connected())
	if err == nil {
		s.health.MarkDispatched()
	}
}

func (s *healthStreamSink) Connected() bool {
	return s.sink.Connected()
}

func (s *healthStreamSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
