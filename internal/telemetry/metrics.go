package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ingestd"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	fetchRetries   *prometheus.CounterVec
	dispatchWrites *prometheus.CounterVec
	cleanupRows    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job executions by result.",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one fetch and dispatch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"job"}),
		fetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "HTTP attempts retried by the fetch client.",
		}, []string{"source", "layer"}),
		dispatchWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_writes_total",
			Help:      "Dispatcher sink writes by outcome kind, sink and result.",
		}, []string{"kind", "sink", "result"}),
		cleanupRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_rows_total",
			Help:      "Metric rows removed by retention cleanup.",
		}),
	}
}

func (m *Metrics) JobRun(job string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(ok)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *Metrics) FetchRetry(source, layer string) {
	if m == nil {
		return
	}
	m.fetchRetries.WithLabelValues(source, layer).Inc()
}

func (m *Metrics) DispatchWrite(kind, sink string, ok bool) {
	if m == nil {
		return
	}
	m.dispatchWrites.WithLabelValues(kind, sink, result(ok)).Inc()
}

func (m *Metrics) CleanupDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupRows.Add(float64(n))
}

// Gauge registers a value sampled at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
