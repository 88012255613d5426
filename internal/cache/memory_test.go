package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/model"
)

func metric(source, name string, v float64, ts int64) model.Metric {
	return model.Metric{Source: source, Name: name, Value: v, Timestamp: ts, Unit: model.UnitIndex}
}

func TestPutOverwritesLatest(t *testing.T) {
	c := NewMemory(10, time.Minute)
	c.Put(metric("alt", "fgi", 41, 1))
	c.Put(metric("alt", "fgi", 42, 2))

	got, ok := c.Get("alt", "fgi")
	require.True(t, ok)
	assert.Equal(t, 42.0, got.Value)
	assert.Equal(t, 1, c.Len())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemory(2, time.Minute)
	c.PutBatch([]model.Metric{metric("s", "a", 1, 1), metric("s", "b", 2, 1)})
	_, _ = c.Get("s", "a")
	c.Put(metric("s", "c", 3, 1))

	_, okA := c.Get("s", "a")
	_, okB := c.Get("s", "b")
	_, okC := c.Get("s", "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestTTLExpires(t *testing.T) {
	c := NewMemory(10, 20*time.Millisecond)
	c.Put(metric("s", "a", 1, 1))
	require.Eventually(t, func() bool {
		_, ok := c.Get("s", "a")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestStats(t *testing.T) {
	c := NewMemory(10, time.Minute)
	assert.Equal(t, Stats{}, c.Stats())

	c.PutBatch([]model.Metric{metric("s", "a", 1, 1), metric("s", "b", 2, 1)})
	st := c.Stats()
	assert.Equal(t, 2, st.EntryCount)
	assert.Greater(t, st.WeightedSize, int64(0))

	c.Purge()
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestConcurrentAccess(t *testing.T) {
	c := NewMemory(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				name := fmt.Sprintf("m%d", j%10)
				c.Put(metric("s", name, float64(i), int64(j)))
				_, _ = c.Get("s", name)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}
