package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ingestd/internal/datasource"
	"ingestd/internal/model"
	"ingestd/internal/scheduler"
	"ingestd/internal/storage"
)

type JobService interface {
	Create(ctx context.Context, job model.IngestionJob) (model.JobRecord, error)
	Update(ctx context.Context, id int64, job model.IngestionJob) (model.JobRecord, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (model.JobRecord, error)
	List(ctx context.Context) ([]model.JobRecord, error)
	Armed() []scheduler.ArmedJob
	Trigger(ctx context.Context, id int64) error
}

type MetricReader interface {
	GetLatest(ctx context.Context, source, name string) (*model.Metric, error)
	QueryRange(ctx context.Context, q storage.RangeQuery) ([]model.Metric, error)
}

type MetadataReader interface {
	Snapshot() ([]model.MetricKey, time.Time)
}

type EventLister interface {
	ListEvents(ctx context.Context, instanceID string, limit int) ([]model.Event, error)
}

type StateReader interface {
	GetState(ctx context.Context, key string) (model.StateEntry, error)
	DeleteState(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

type SourceDescriber interface {
	Describe() []datasource.SourceInfo
}

// Deps are the collaborators behind the routes. State may be nil when no state store is configured.
type Deps struct {
	Jobs     JobService
	Metrics  MetricReader
	Metadata MetadataReader
	Events   EventLister
	State    StateReader
	Sources  SourceDescriber
	Health   func() any
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	router *mux.Router
	http   *http.Server
	now    func() time.Time
}

func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger, router: mux.NewRouter(), now: time.Now}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id:[0-9]+}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id:[0-9]+}", s.handleUpdateJob).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{id:[0-9]+}", s.handleDeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id:[0-9]+}/trigger", s.handleTriggerJob).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/jobs", s.handleArmed).Methods(http.MethodGet)
	api.HandleFunc("/metrics/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/metrics/range", s.handleRange).Methods(http.MethodGet)
	api.HandleFunc("/metrics/available", s.handleAvailable).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleStateKeys).Methods(http.MethodGet)
	api.HandleFunc("/state/{key}", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/state/{key}", s.handleDeleteState).Methods(http.MethodDelete)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("management api listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve management api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown management api: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Health())
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sources.Describe())
}
