package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INGESTD_INSTANCE_ID", "node-a")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.InstanceID)
	assert.Equal(t, BackendLocal, cfg.StorageBackend)
	assert.Equal(t, "data/metrics.db", cfg.SQLitePath)
	assert.Equal(t, 365, cfg.RetentionDays)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 1024, cfg.DispatchBuffer)
	assert.Equal(t, StreamModeNone, cfg.ForwardMode)
	assert.Equal(t, 256, cfg.ForwardQueueSize)
	assert.Equal(t, 10*time.Second, cfg.ForwardTimeout)
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.Equal(t, "ingestd/"+HardcodedVersion, cfg.HTTP.UserAgent)
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("INGESTD_STORAGE_BACKEND", "external")
	_, err := Load()
	assert.ErrorContains(t, err, "INGESTD_TIMESCALE_URL")

	t.Setenv("INGESTD_STORAGE_BACKEND", "local")
	t.Setenv("INGESTD_FORWARD_MODE", "grpc")
	_, err = Load()
	assert.ErrorContains(t, err, "INGESTD_FORWARD_GRPC_ADDR")

	t.Setenv("INGESTD_FORWARD_GRPC_ADDR", "127.0.0.1:9000")
	t.Setenv("INGESTD_FORWARD_QUEUE_SIZE", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "INGESTD_FORWARD_QUEUE_SIZE")

	t.Setenv("INGESTD_FORWARD_MODE", "carrier-pigeon")
	_, err = Load()
	assert.ErrorContains(t, err, "unsupported forward mode")
}

func TestPerSourceHTTPOverrides(t *testing.T) {
	t.Setenv("INGESTD_HTTP_MAX_RETRIES", "5")
	t.Setenv("INGESTD_POLYMARKET_HTTP_MAX_RETRIES", "1")
	t.Setenv("INGESTD_POLYMARKET_HTTP_TIMEOUT", "3s")
	t.Setenv("INGESTD_POLYMARKET_BASE_URL", "http://127.0.0.1:9999")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.HTTPClient("alternativeme").MaxRetries)
	pm := cfg.HTTPClient("polymarket")
	assert.Equal(t, 1, pm.MaxRetries)
	assert.Equal(t, 3*time.Second, pm.Timeout)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.BaseURL("polymarket"))
	assert.Equal(t, "", cfg.BaseURL("alternativeme"))
}

func TestTLSConfigDisabled(t *testing.T) {
	tlsCfg, err := Config{}.TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	_, err = Config{TLSEnabled: true, TLSCertPath: "only-cert.pem"}.TLSConfig()
	assert.Error(t, err)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadJobsDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_single.yaml", `
name: fgi
datasource: alternativeme
method: get_fear_and_greed
interval_secs: 300
targets: [metrics, state]
state_ttl_secs: 600
`)
	writeFile(t, dir, "b_list.yml", `
jobs:
  - name: holders
    datasource: polymarket
    method: get_holders
    schedule:
      cron: "*/5 * * * *"
    params:
      market: "0xabc"
      limit: 10
    enabled: false
  - name: global
    datasource: alternativeme
    method: get_global
    cron: "@hourly"
`)
	writeFile(t, dir, "ignored.txt", "not yaml")

	jobs, err := LoadJobsDir(dir)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, "fgi", jobs[0].Name)
	assert.Equal(t, model.Interval(300), jobs[0].Schedule)
	assert.True(t, jobs[0].Enabled)
	assert.True(t, jobs[0].HasTarget(model.TargetState))
	assert.Equal(t, model.DefaultRetentionDays, jobs[0].RetentionDays)

	assert.Equal(t, "0 */5 * * * *", jobs[1].Schedule.Cron)
	assert.False(t, jobs[1].Enabled)
	assert.JSONEq(t, `{"market":"0xabc","limit":10}`, string(jobs[1].Params))

	assert.Equal(t, "@hourly", jobs[2].Schedule.Cron)
}

func TestLoadJobsDirRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "name: x\ndatasource: alternativeme\nmethod: get_global\ninterval_secs: 5\n")
	_, err := LoadJobsDir(dir)
	assert.Error(t, err)

	dir = t.TempDir()
	writeFile(t, dir, "none.yaml", "name: x\ndatasource: alternativeme\nmethod: get_global\n")
	_, err = LoadJobsDir(dir)
	assert.ErrorContains(t, err, "interval_secs or cron")
}
