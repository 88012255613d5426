package coordinator

import (
	"sync"
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	storeHealthy    atomic.Bool
	streamConnected atomic.Bool
	fires           atomic.Int64
	failures        atomic.Int64
	dispatched      atomic.Int64
	lastFireAt      atomic.Int64

	mu        sync.Mutex
	lastError string
	lastErrAt time.Time
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetStoreHealthy(ok bool) {
	h.storeHealthy.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

// RecordFire counts one job execution and remembers the last failure.
func (h *HealthStatus) RecordFire(job string, err error) {
	h.fires.Add(1)
	h.lastFireAt.Store(time.Now().UTC().UnixNano())
	if err == nil {
		return
	}
	h.failures.Add(1)
	h.mu.Lock()
	h.lastError = job + ": " + err.Error()
	h.lastErrAt = time.Now().UTC()
	h.mu.Unlock()
}

func (h *HealthStatus) MarkDispatched() {
	h.dispatched.Add(1)
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"store_healthy":      h.storeHealthy.Load(),
		"stream_connected":   h.streamConnected.Load(),
		"fires":              h.fires.Load(),
		"failures":           h.failures.Load(),
		"dispatched_batches": h.dispatched.Load(),
	}
	if v := h.lastFireAt.Load(); v > 0 {
		out["last_fire_at"] = time.Unix(0, v).UTC()
	}
	h.mu.Lock()
	if h.lastError != "" {
		out["last_error"] = h.lastError
		out["last_error_at"] = h.lastErrAt
	}
	h.mu.Unlock()
	return out
}
