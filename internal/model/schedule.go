package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval bounds how often an interval job may fire. It applies to @every descriptors too.
const MinInterval = 10 * time.Second

const maxIntervalSecs = uint64(math.MaxInt64 / int64(time.Second))

type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// CronParser accepts the seconds-inclusive six field grammar plus @descriptors.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is either a fixed interval in seconds or a cron expression.
type Schedule struct {
	Kind         ScheduleKind
	IntervalSecs uint64
	Cron         string
}

func Interval(secs uint64) Schedule {
	return Schedule{Kind: ScheduleInterval, IntervalSecs: secs}
}

func Cron(expr string) Schedule {
	return Schedule{Kind: ScheduleCron, Cron: expr}
}

// NormalizeCron prefixes a zero seconds field onto five field expressions.
func NormalizeCron(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@") {
		return expr
	}
	fields := strings.Fields(expr)
	if len(fields) == 5 {
		return "0 " + strings.Join(fields, " ")
	}
	return strings.Join(fields, " ")
}

func (s Schedule) Validate() error {
	_, err := s.Resolve()
	return err
}

// Resolve converts the schedule into the runner's representation.
func (s Schedule) Resolve() (cron.Schedule, error) {
	switch s.Kind {
	case ScheduleInterval:
		if s.IntervalSecs > maxIntervalSecs {
			return nil, fmt.Errorf("interval must be at most %ds, got %ds", maxIntervalSecs, s.IntervalSecs)
		}
		d := time.Duration(s.IntervalSecs) * time.Second
		if d < MinInterval {
			return nil, fmt.Errorf("interval must be at least %ds, got %ds", int(MinInterval/time.Second), s.IntervalSecs)
		}
		return cron.Every(d), nil
	case ScheduleCron:
		expr := NormalizeCron(s.Cron)
		if expr == "" {
			return nil, errors.New("cron expression must not be empty")
		}
		sched, err := CronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
		}
		if every, ok := sched.(cron.ConstantDelaySchedule); ok && every.Delay < MinInterval {
			return nil, fmt.Errorf("cron %q fires every %s, below the %s minimum", s.Cron, every.Delay, MinInterval)
		}
		return sched, nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Next reports the first fire time strictly after t.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	sched, err := s.Resolve()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleInterval:
		return fmt.Sprintf("every %ds", s.IntervalSecs)
	case ScheduleCron:
		return "cron " + NormalizeCron(s.Cron)
	default:
		return "unknown"
	}
}

type scheduleJSON struct {
	IntervalSecs *uint64 `json:"interval_secs,omitempty"`
	Cron         *string `json:"cron,omitempty"`
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case ScheduleInterval:
		secs := s.IntervalSecs
		return json.Marshal(scheduleJSON{IntervalSecs: &secs})
	case ScheduleCron:
		expr := s.Cron
		return json.Marshal(scheduleJSON{Cron: &expr})
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	var raw scheduleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.IntervalSecs != nil && raw.Cron != nil:
		return errors.New("schedule must set exactly one of interval_secs or cron")
	case raw.IntervalSecs != nil:
		*s = Interval(*raw.IntervalSecs)
	case raw.Cron != nil:
		*s = Cron(*raw.Cron)
	default:
		return errors.New("schedule must set interval_secs or cron")
	}
	return nil
}
