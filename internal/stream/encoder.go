package stream

import (
	"context"
	"encoding/json"
	"time"

	"ingestd/internal/model"
)

// Sink forwards outcomes to a remote collector. It satisfies both dispatcher sink interfaces.
type Sink interface {
	WriteMetrics(ctx context.Context, metrics []model.Metric) error
	WriteState(ctx context.Context, entries []model.StateEntry) error
	Connected() bool
	Close(ctx context.Context) error
}

type MetricsFrame struct {
	InstanceID    string         `json:"instance_id"`
	TimestampUnix int64          `json:"timestamp_unix"`
	Metrics       []model.Metric `json:"metrics"`
}

type StateFrame struct {
	InstanceID    string             `json:"instance_id"`
	TimestampUnix int64              `json:"timestamp_unix"`
	Entries       []model.StateEntry `json:"entries"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewMetricsFrame(instanceID string, metrics []model.Metric) MetricsFrame {
	at := time.Now().UTC().Unix()
	if len(metrics) > 0 {
		at = metrics[0].Timestamp
	}
	return MetricsFrame{InstanceID: instanceID, TimestampUnix: at, Metrics: metrics}
}

func NewStateFrame(instanceID string, entries []model.StateEntry) StateFrame {
	return StateFrame{InstanceID: instanceID, TimestampUnix: time.Now().UTC().Unix(), Entries: entries}
}
