package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/model"
	"ingestd/internal/stream"
	"ingestd/internal/telemetry"
)

type recordingSink struct {
	mu      sync.Mutex
	metrics [][]model.Metric
	state   [][]model.StateEntry
	err     error
}

func (r *recordingSink) WriteMetrics(_ context.Context, m []model.Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	return r.err
}

func (r *recordingSink) WriteState(_ context.Context, s []model.StateEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = append(r.state, s)
	return r.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dispatchWrites(t *testing.T, tm *telemetry.Metrics, sink, result string) float64 {
	t.Helper()
	families, err := tm.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "ingestd_dispatch_writes_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["sink"] == sink && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func metric(v float64) model.Metric {
	return model.Metric{Source: "s", Name: "n", Value: v, Timestamp: 1, Unit: model.UnitCount}
}

func TestRoutesByKind(t *testing.T) {
	ms, ss := &recordingSink{}, &recordingSink{}
	d := New(quiet(), 8, WithMetricsSink("m", ms), WithStateSink("s", ss))
	go d.Run(context.Background())

	ctx := context.Background()
	require.NoError(t, d.Submit(ctx, model.MetricsOutcome("j", []model.Metric{metric(1)})))
	require.NoError(t, d.Submit(ctx, model.StateOutcome("j", []model.StateEntry{{Key: "k", Value: []byte(`1`)}})))
	require.NoError(t, d.Submit(ctx, model.MetricsOutcome("j", nil)))
	d.Close()
	<-d.Done()

	assert.Len(t, ms.metrics, 1)
	assert.Empty(t, ms.state)
	assert.Len(t, ss.state, 1)
	assert.Empty(t, ss.metrics)
}

func TestSinkErrorDropsBatchAndContinues(t *testing.T) {
	bad := &recordingSink{err: errors.New("disk full")}
	good := &recordingSink{}
	tm := telemetry.New()
	d := New(quiet(), 8, WithMetricsSink("bad", bad), WithMetricsSink("good", good), WithMetrics(tm))
	go d.Run(context.Background())

	require.NoError(t, d.Submit(context.Background(), model.MetricsOutcome("j", []model.Metric{metric(1)})))
	require.NoError(t, d.Submit(context.Background(), model.MetricsOutcome("j", []model.Metric{metric(2)})))
	d.Close()
	<-d.Done()

	assert.Len(t, bad.metrics, 2)
	assert.Len(t, good.metrics, 2)
	assert.Equal(t, 2.0, dispatchWrites(t, tm, "bad", "error"))
	assert.Equal(t, 2.0, dispatchWrites(t, tm, "good", "ok"))
}

func TestNoSinksIsNoop(t *testing.T) {
	d := New(quiet(), 1)
	go d.Run(context.Background())
	require.NoError(t, d.Submit(context.Background(), model.StateOutcome("j", []model.StateEntry{{Key: "k"}})))
	d.Close()
	<-d.Done()
}

func TestSubmitAfterClose(t *testing.T) {
	d := New(quiet(), 1)
	d.Close()
	d.Close()
	assert.ErrorIs(t, d.Submit(context.Background(), model.MetricsOutcome("j", nil)), ErrClosed)
}

func TestSubmitBlocksUntilContextEnds(t *testing.T) {
	d := New(quiet(), 1)
	require.NoError(t, d.Submit(context.Background(), model.MetricsOutcome("j", []model.Metric{metric(1)})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, model.MetricsOutcome("j", []model.Metric{metric(2)}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, d.Pending())
}

func TestRunDrainsBufferedOutcomes(t *testing.T) {
	ms := &recordingSink{}
	d := New(quiet(), 16, WithMetricsSink("m", ms))
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(context.Background(), model.MetricsOutcome("j", []model.Metric{metric(float64(i))})))
	}
	d.Close()
	require.NoError(t, d.Run(context.Background()))
	assert.Len(t, ms.metrics, 10)
}

func TestSilentForwardPeerDoesNotStallLocalWrites(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var held []net.Conn
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-accepted
		for _, c := range held {
			_ = c.Close()
		}
	})

	ws := stream.NewWebSocketClient(stream.WebSocketOptions{
		URL:          "ws://" + ln.Addr().String() + "/ingest",
		WriteTimeout: 100 * time.Millisecond,
	}, quiet())
	forward := stream.NewQueuedSink(ws, 4, time.Minute, quiet())
	defer forward.Close(context.Background())

	local := &recordingSink{}
	d := New(quiet(), 8, WithMetricsSink("local", local), WithMetricsSink("forward", forward))
	go d.Run(context.Background())
	defer d.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Submit(context.Background(), model.MetricsOutcome("j", []model.Metric{metric(float64(i))})))
	}
	assert.Eventually(t, func() bool {
		local.mu.Lock()
		defer local.mu.Unlock()
		return len(local.metrics) == 3
	}, 2*time.Second, 10*time.Millisecond)
}
