package timescale

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/model"
	"ingestd/internal/storage"
)

// Runs against a live database only when INGESTD_TEST_TIMESCALE_URL is set.
func openTest(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("INGESTD_TEST_TIMESCALE_URL")
	if url == "" {
		t.Skip("INGESTD_TEST_TIMESCALE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := Open(ctx, Options{URL: url, Connector: storage.Connector{MaxAttempts: 3, RetryWait: time.Second}}, nil)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, "DELETE FROM metrics WHERE source = 'ingestd-test'")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	var batch []model.Metric
	for _, ts := range []int64{100, 200, 300, 400} {
		batch = append(batch, model.Metric{Source: "ingestd-test", Name: "n", Value: float64(ts), Timestamp: ts, Unit: model.UnitCount,
			Labels: map[string]string{"k": "v"}})
	}
	require.NoError(t, s.InsertBatch(ctx, batch))

	latest, err := s.GetLatest(ctx, "ingestd-test", "n")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(400), latest.Timestamp)
	assert.Equal(t, "v", latest.Labels["k"])

	src, name := "ingestd-test", "n"
	rows, err := s.QueryRange(ctx, storage.RangeQuery{Source: &src, Name: &name, Start: 150, End: 350, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(300), rows[0].Timestamp)

	n, err := s.CleanupBefore(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(context.Background(), Options{URL: "://nope"}, nil)
	assert.Error(t, err)
}
