package model

import (
	"encoding/json"
	"strings"
)

type MetricUnit string

const (
	UnitCount   MetricUnit = "count"
	UnitPercent MetricUnit = "percent"
	UnitUSD     MetricUnit = "usd"
	UnitIndex   MetricUnit = "index"
	UnitBytes   MetricUnit = "bytes"
	UnitSeconds MetricUnit = "seconds"
	UnitRatio   MetricUnit = "ratio"
	UnitNone    MetricUnit = "none"
)

// Metric is one observation of a (source, name) series at a unix-second timestamp.
type Metric struct {
	Source    string            `json:"source"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp int64             `json:"timestamp"`
	Unit      MetricUnit        `json:"unit"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// MetricKey identifies a series independent of time.
type MetricKey struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

func KeyOf(source, name string) string {
	return source + "::" + name
}

func (m Metric) Key() string {
	return KeyOf(m.Source, m.Name)
}

// WithLabel returns a copy of m carrying the extra label.
func (m Metric) WithLabel(key, value string) Metric {
	labels := make(map[string]string, len(m.Labels)+1)
	for k, v := range m.Labels {
		labels[k] = v
	}
	labels[key] = value
	m.Labels = labels
	return m
}

// LabelsJSON renders labels with sorted keys; nil labels encode as "{}".
func (m Metric) LabelsJSON() string {
	if len(m.Labels) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m.Labels)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func ParseLabels(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "null" {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
