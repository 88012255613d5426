package model

import (
	"encoding/json"
	"strings"
	"time"

	"ingestd/internal/apperr"
)

const DefaultRetentionDays uint32 = 7

type Target string

const (
	TargetMetrics Target = "metrics"
	TargetState   Target = "state"
)

// IngestionJob is the persisted definition of what to fetch, how often, and where results go.
type IngestionJob struct {
	Name          string          `json:"name"`
	DataSource    string          `json:"datasource"`
	Method        string          `json:"method"`
	Schedule      Schedule        `json:"schedule"`
	Params        json.RawMessage `json:"params,omitempty"`
	RetentionDays uint32          `json:"retention_days"`
	Enabled       bool            `json:"enabled"`
	Targets       []Target        `json:"targets,omitempty"`
	StateTTLSecs  uint64          `json:"state_ttl_secs,omitempty"`
}

// JobRecord is an IngestionJob with its storage identity.
type JobRecord struct {
	ID        int64        `json:"id"`
	Job       IngestionJob `json:"job"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// WithDefaults fills retention and targets when unset.
func (j IngestionJob) WithDefaults() IngestionJob {
	j.Name = strings.TrimSpace(j.Name)
	j.DataSource = strings.TrimSpace(j.DataSource)
	j.Method = strings.TrimSpace(j.Method)
	if j.RetentionDays == 0 {
		j.RetentionDays = DefaultRetentionDays
	}
	if len(j.Targets) == 0 {
		j.Targets = []Target{TargetMetrics}
	}
	if j.Schedule.Kind == ScheduleCron {
		j.Schedule.Cron = NormalizeCron(j.Schedule.Cron)
	}
	return j
}

func (j IngestionJob) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return apperr.Validation("job name must not be empty")
	}
	if strings.TrimSpace(j.DataSource) == "" {
		return apperr.Validation("job %q: datasource must not be empty", j.Name)
	}
	if strings.TrimSpace(j.Method) == "" {
		return apperr.Validation("job %q: method must not be empty", j.Name)
	}
	if err := j.Schedule.Validate(); err != nil {
		return apperr.Validation("job %q: %v", j.Name, err)
	}
	for _, t := range j.Targets {
		switch t {
		case TargetMetrics, TargetState:
		default:
			return apperr.Validation("job %q: unknown target %q", j.Name, t)
		}
	}
	if len(j.Params) > 0 && !json.Valid(j.Params) {
		return apperr.Validation("job %q: params must be valid JSON", j.Name)
	}
	return nil
}

// HasTarget reports whether results of kind t should be dispatched. No targets means metrics only.
func (j IngestionJob) HasTarget(t Target) bool {
	if len(j.Targets) == 0 {
		return t == TargetMetrics
	}
	for _, have := range j.Targets {
		if have == t {
			return true
		}
	}
	return false
}

func (j IngestionJob) StateTTL() time.Duration {
	return time.Duration(j.StateTTLSecs) * time.Second
}
