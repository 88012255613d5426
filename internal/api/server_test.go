package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/cache"
	"ingestd/internal/datasource"
	"ingestd/internal/jobctl"
	"ingestd/internal/model"
	"ingestd/internal/scheduler"
	"ingestd/internal/storage"
	"ingestd/internal/storage/sqlite"
	"ingestd/internal/telemetry"
)

type fakeSource struct{}

func (fakeSource) Name() string { return "fake" }

func (fakeSource) Capabilities() []datasource.Capability {
	return []datasource.Capability{{Method: "get", Description: "test", Handler: func(context.Context, json.RawMessage) (datasource.Result, error) {
		return datasource.Result{}, nil
	}}}
}

type nopSubmitter struct{}

func (nopSubmitter) Submit(context.Context, model.ScrapeOutcome) error { return nil }

type memState map[string]model.StateEntry

func (m memState) GetState(_ context.Context, key string) (model.StateEntry, error) {
	e, ok := m[key]
	if !ok {
		return model.StateEntry{}, storage.ErrNotFound
	}
	return e, nil
}

func (m memState) DeleteState(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func (m memState) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for k := range m {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

type fixture struct {
	handler http.Handler
	tiered  *storage.Tiered
	meta    *storage.MetadataCache
}

func newFixture(t *testing.T, state StateReader) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(context.Background(), sqlite.MemoryPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := datasource.NewRegistry(fakeSource{})
	exec := scheduler.NewExecutor(reg, nopSubmitter{}, store, "test", logger, nil)
	sched := scheduler.New(scheduler.Options{Executor: exec, Validator: reg, Jobs: store, Events: store, InstanceID: "test", Logger: logger})
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	tiered := storage.NewTiered(cache.NewMemory(100, time.Minute), store, logger)
	meta := storage.NewMetadataCache()
	srv := NewServer("127.0.0.1:0", Deps{
		Jobs:     jobctl.NewService(store, store, sched, reg, "test", logger),
		Metrics:  tiered,
		Metadata: meta,
		Events:   store,
		State:    state,
		Sources:  reg,
		Health:   func() any { return map[string]string{"status": "ok"} },
		Registry: telemetry.New().Registry,
		Logger:   logger,
	})
	srv.now = func() time.Time { return time.Unix(100_000, 0) }
	return &fixture{handler: srv.Handler(), tiered: tiered, meta: meta}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const jobBody = `{"name":"fgi","datasource":"fake","method":"get","schedule":{"interval_secs":60}}`

func TestJobCRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/jobs", jobBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.JobRecord](t, rec)
	assert.True(t, created.Job.Enabled)
	assert.Equal(t, model.DefaultRetentionDays, created.Job.RetentionDays)

	rec = f.do(t, http.MethodPost, "/api/jobs", jobBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.JobRecord](t, rec), 1)

	armed := decode[[]scheduler.ArmedJob](t, f.do(t, http.MethodGet, "/api/scheduler/jobs", ""))
	require.Len(t, armed, 1)
	assert.Equal(t, created.ID, armed[0].JobID)

	path := "/api/jobs/" + strconv.FormatInt(created.ID, 10)
	rec = f.do(t, http.MethodPut, path, `{"name":"fgi","datasource":"fake","method":"get","schedule":{"cron":"0 * * * *"},"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[model.JobRecord](t, rec).Job.Enabled)
	assert.Empty(t, decode[[]scheduler.ArmedJob](t, f.do(t, http.MethodGet, "/api/scheduler/jobs", "")))

	rec = f.do(t, http.MethodPost, path+"/trigger", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Code)
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []string{
		`{"name":"x","datasource":"fake","method":"get","schedule":{"interval_secs":5}}`,
		`{"name":"x","datasource":"nope","method":"get","schedule":{"interval_secs":60}}`,
		`{"name":"x","datasource":"fake","method":"get","schedule":{}}`,
		`{"name":"x","unknown":1}`,
		`not json`,
	}
	for _, body := range cases {
		rec := f.do(t, http.MethodPost, "/api/jobs", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestMetricsRoutes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.tiered.Store(ctx, []model.Metric{
		{Source: "alt", Name: "fgi", Value: 40, Timestamp: 99_000, Unit: model.UnitIndex},
		{Source: "alt", Name: "fgi", Value: 42, Timestamp: 99_900, Unit: model.UnitIndex},
	}))
	_, err := f.meta.Refresh(ctx, f.tiered)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/metrics/latest?source=alt&name=fgi", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42.0, decode[model.Metric](t, rec).Value)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/metrics/latest?source=alt&name=none", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/metrics/latest?source=alt", "").Code)

	type rangeResp struct {
		Count   int            `json:"count"`
		Metrics []model.Metric `json:"metrics"`
	}
	got := decode[rangeResp](t, f.do(t, http.MethodGet, "/api/metrics/range?source=alt&name=fgi&time_range=1h", ""))
	assert.Equal(t, 2, got.Count)
	got = decode[rangeResp](t, f.do(t, http.MethodGet, "/api/metrics/range?source=alt&start=99500&end=100000", ""))
	assert.Equal(t, 1, got.Count)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/metrics/range?time_range=2y", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/metrics/range?start=10&end=5", "").Code)

	rec = f.do(t, http.MethodGet, "/api/metrics/available", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fgi"`)
}

func TestEventsSourcesHealthAndProm(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/jobs", jobBody).Code)

	events := decode[[]model.Event](t, f.do(t, http.MethodGet, "/api/events?instance_id=test&limit=10", ""))
	assert.NotEmpty(t, events)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/events?limit=0", "").Code)

	sources := decode[[]datasource.SourceInfo](t, f.do(t, http.MethodGet, "/api/sources", ""))
	require.Len(t, sources, 1)
	assert.Equal(t, "fake", sources[0].Name)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ingestd_cleanup_deleted_rows_total"))
}

func TestStateRoute(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/api/state/state:a:b", "").Code)

	f = newFixture(t, memState{"state:a:b": {Key: "state:a:b", Value: json.RawMessage(`{"v":1}`)}})
	rec := f.do(t, http.MethodGet, "/api/state/state:a:b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"state:a:b","value":{"v":1}}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/state/state:x:y", "").Code)
}

func TestStateKeysAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/api/state", "").Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodDelete, "/api/state/state:a:b", "").Code)

	st := memState{
		"state:a:b": {Key: "state:a:b", Value: json.RawMessage(`1`)},
		"state:a:c": {Key: "state:a:c", Value: json.RawMessage(`2`)},
		"state:z:q": {Key: "state:z:q", Value: json.RawMessage(`3`)},
	}
	f = newFixture(t, st)

	rec := f.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["state:a:b","state:a:c","state:z:q"]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/state?pattern=state:a:*", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["state:a:b","state:a:c"]`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/state/state:a:b", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/state/state:a:b", "").Code)

	rec = f.do(t, http.MethodGet, "/api/state?pattern=state:nothing:*", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
