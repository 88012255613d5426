package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ingestd/internal/model"
)

const (
	DefaultTTL        = 15 * time.Minute
	DefaultMaxEntries = 100_000
)

// Memory keeps the latest Metric per source::name key, bounded by TTL and entry count.
// Least recently used entries go first once the capacity is reached.
type Memory struct {
	lru *expirable.LRU[string, model.Metric]
}

type Stats struct {
	EntryCount   int   `json:"entry_count"`
	WeightedSize int64 `json:"weighted_size"`
}

func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, model.Metric](maxEntries, nil, ttl)}
}

func (c *Memory) Put(m model.Metric) {
	c.lru.Add(m.Key(), m)
}

func (c *Memory) PutBatch(metrics []model.Metric) {
	for _, m := range metrics {
		c.lru.Add(m.Key(), m)
	}
}

func (c *Memory) Get(source, name string) (model.Metric, bool) {
	return c.lru.Get(model.KeyOf(source, name))
}

func (c *Memory) Remove(source, name string) bool {
	return c.lru.Remove(model.KeyOf(source, name))
}

// Purge drops every entry.
func (c *Memory) Purge() {
	c.lru.Purge()
}

func (c *Memory) Len() int {
	return c.lru.Len()
}

// Stats approximates entry footprint from key, string and label lengths.
func (c *Memory) Stats() Stats {
	values := c.lru.Values()
	var size int64
	for _, m := range values {
		size += weight(m)
	}
	return Stats{EntryCount: len(values), WeightedSize: size}
}

func weight(m model.Metric) int64 {
	const fixed = 8 + 8 + 16*4
	n := int64(fixed + 2*(len(m.Source)+len(m.Name)) + 2 + len(m.Unit))
	for k, v := range m.Labels {
		n += int64(len(k) + len(v) + 32)
	}
	return n
}
