package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ingestd/internal/apperr"
	"ingestd/internal/model"
	"ingestd/internal/storage"
)

const defaultEventLimit = 100

var timeRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, name := q.Get("source"), q.Get("name")
	if source == "" || name == "" {
		writeBadRequest(w, "source and name are required")
		return
	}
	m, err := s.deps.Metrics.GetLatest(r.Context(), source, name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if m == nil {
		writeError(w, s.logger, apperr.NotFound("no value for %s", model.KeyOf(source, name)))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// rangeQuery reads start/end as unix seconds. time_range wins over both; with neither the last 24h
// is returned.
func (s *Server) rangeQuery(q url.Values) (storage.RangeQuery, error) {
	var rq storage.RangeQuery
	if v := q.Get("source"); v != "" {
		rq.Source = &v
	}
	if v := q.Get("name"); v != "" {
		rq.Name = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rq, apperr.Validation("limit must be a non-negative integer")
		}
		rq.Limit = n
	}

	now := s.now().UTC().Unix()
	if tr := q.Get("time_range"); tr != "" {
		d, ok := timeRanges[tr]
		if !ok {
			return rq, apperr.Validation("time_range must be one of 1h, 6h, 24h, 7d, 30d")
		}
		rq.Start, rq.End = now-int64(d/time.Second), now
		return rq, nil
	}

	rq.End = now
	rq.Start = now - int64(24*time.Hour/time.Second)
	for key, dst := range map[string]*int64{"start": &rq.Start, "end": &rq.End} {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return rq, apperr.Validation("%s must be unix seconds", key)
			}
			*dst = n
		}
	}
	return rq, nil
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	rq, err := s.rangeQuery(r.URL.Query())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	rows, err := s.deps.Metrics.QueryRange(r.Context(), rq)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if rows == nil {
		rows = []model.Metric{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"start": rq.Start, "end": rq.End, "count": len(rows), "metrics": rows})
}

func (s *Server) handleAvailable(w http.ResponseWriter, _ *http.Request) {
	keys, refreshedAt := s.deps.Metadata.Snapshot()
	if keys == nil {
		keys = []model.MetricKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed_at": refreshedAt, "metrics": keys})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.deps.Events.ListEvents(r.Context(), q.Get("instance_id"), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) stateConfigured(w http.ResponseWriter) bool {
	if s.deps.State == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Code: "state_store_missing", Message: "state store not configured"})
		return false
	}
	return true
}

// handleStateKeys lists state keys matching ?pattern=, defaulting to every state key.
func (s *Server) handleStateKeys(w http.ResponseWriter, r *http.Request) {
	if !s.stateConfigured(w) {
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "state:*"
	}
	keys, err := s.deps.State.Keys(r.Context(), pattern)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	if !s.stateConfigured(w) {
		return
	}
	if err := s.deps.State.DeleteState(r.Context(), mux.Vars(r)["key"]); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.stateConfigured(w) {
		return
	}
	key := mux.Vars(r)["key"]
	entry, err := s.deps.State.GetState(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, s.logger, apperr.NotFound("state %q not found", key))
		return
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
