package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/apperr"
)

func validJob() IngestionJob {
	return IngestionJob{
		Name:       "fgi",
		DataSource: "alternativeme",
		Method:     "get_fear_and_greed",
		Schedule:   Interval(60),
		Enabled:    true,
	}
}

func TestValidateAcceptsIntervalAtFloor(t *testing.T) {
	j := validJob()
	j.Schedule = Interval(10)
	require.NoError(t, j.Validate())
}

func TestValidateAcceptsCron(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 */5 * * * *", "@hourly", "@every 30s"} {
		j := validJob()
		j.Schedule = Cron(expr)
		assert.NoError(t, j.Validate(), expr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*IngestionJob){
		"short interval": func(j *IngestionJob) { j.Schedule = Interval(9) },
		"zero interval":  func(j *IngestionJob) { j.Schedule = Interval(0) },
		"huge interval":  func(j *IngestionJob) { j.Schedule = Interval(18446744084) },
		"fast every":     func(j *IngestionJob) { j.Schedule = Cron("@every 1s") },
		"half second":    func(j *IngestionJob) { j.Schedule = Cron("@every 500ms") },
		"empty name":     func(j *IngestionJob) { j.Name = "  " },
		"empty method":   func(j *IngestionJob) { j.Method = "" },
		"empty source":   func(j *IngestionJob) { j.DataSource = "" },
		"bad cron":       func(j *IngestionJob) { j.Schedule = Cron("not a cron") },
		"empty cron":     func(j *IngestionJob) { j.Schedule = Cron("") },
		"bad target":     func(j *IngestionJob) { j.Targets = []Target{"archive"} },
		"bad params":     func(j *IngestionJob) { j.Params = json.RawMessage(`{"a":`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			j := validJob()
			mutate(&j)
			err := j.Validate()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestNormalizeCron(t *testing.T) {
	assert.Equal(t, "0 */5 * * * *", NormalizeCron("*/5 * * * *"))
	assert.Equal(t, "30 0 9 * * MON", NormalizeCron(" 30 0 9 * * MON "))
	assert.Equal(t, "@daily", NormalizeCron("@daily"))
}

func TestCronNextFiresOnSecondBoundary(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := Cron("*/5 * * * *").Next(base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), next)
}

func TestWithDefaults(t *testing.T) {
	j := IngestionJob{Name: " x ", DataSource: "s", Method: "m", Schedule: Cron("* * * * *")}.WithDefaults()
	assert.Equal(t, "x", j.Name)
	assert.Equal(t, DefaultRetentionDays, j.RetentionDays)
	assert.Equal(t, []Target{TargetMetrics}, j.Targets)
	assert.Equal(t, "0 * * * * *", j.Schedule.Cron)
}

func TestHasTarget(t *testing.T) {
	j := validJob()
	assert.True(t, j.HasTarget(TargetMetrics))
	assert.False(t, j.HasTarget(TargetState))

	j.Targets = []Target{TargetState}
	assert.False(t, j.HasTarget(TargetMetrics))
	assert.True(t, j.HasTarget(TargetState))
}

func TestScheduleJSONIsUntagged(t *testing.T) {
	b, err := json.Marshal(Interval(30))
	require.NoError(t, err)
	assert.JSONEq(t, `{"interval_secs":30}`, string(b))

	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(`{"cron":"0 * * * * *"}`), &s))
	assert.Equal(t, Cron("0 * * * * *"), s)

	assert.Error(t, json.Unmarshal([]byte(`{}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"cron":"x","interval_secs":10}`), &s))
}

func TestLabelsJSONIsSorted(t *testing.T) {
	m := Metric{Labels: map[string]string{"z": "1", "a": "2"}}
	assert.Equal(t, `{"a":"2","z":"1"}`, m.LabelsJSON())
	assert.Equal(t, "{}", Metric{}.LabelsJSON())
	assert.Equal(t, map[string]string{"a": "2", "z": "1"}, ParseLabels(m.LabelsJSON()))
	assert.Nil(t, ParseLabels("{}"))
}

func TestStateEntryTTLRoundTrip(t *testing.T) {
	e, err := NewStateEntry(StateKey("alt", "fgi"), map[string]int{"v": 1}, 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "state:alt:fgi", e.Key)

	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"state:alt:fgi","value":{"v":1},"ttl_secs":90}`, string(b))
}
