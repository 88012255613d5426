package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"ingestd/internal/model"
)

// jobRequest mirrors model.IngestionJob with enabled defaulting to true.
type jobRequest struct {
	Name          string          `json:"name"`
	DataSource    string          `json:"datasource"`
	Method        string          `json:"method"`
	Schedule      model.Schedule  `json:"schedule"`
	Params        json.RawMessage `json:"params,omitempty"`
	RetentionDays uint32          `json:"retention_days"`
	Enabled       *bool           `json:"enabled"`
	Targets       []model.Target  `json:"targets,omitempty"`
	StateTTLSecs  uint64          `json:"state_ttl_secs,omitempty"`
}

func (j jobRequest) toJob() model.IngestionJob {
	return model.IngestionJob{
		Name:          j.Name,
		DataSource:    j.DataSource,
		Method:        j.Method,
		Schedule:      j.Schedule,
		Params:        j.Params,
		RetentionDays: j.RetentionDays,
		Enabled:       j.Enabled == nil || *j.Enabled,
		Targets:       j.Targets,
		StateTTLSecs:  j.StateTTLSecs,
	}
}

func jobID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if jobs == nil {
		jobs = []model.JobRecord{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.deps.Jobs.Create(r.Context(), req.toJob())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	rec, err := s.deps.Jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.deps.Jobs.Update(r.Context(), id, req.toJob())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	if err := s.deps.Jobs.Delete(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	if err := s.deps.Jobs.Trigger(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": "executed"})
}

func (s *Server) handleArmed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.Armed())
}
