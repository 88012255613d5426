package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"ingestd/internal/apperr"
	"ingestd/internal/model"
)

var (
	ErrAlreadyScheduled = errors.New("job already scheduled")
	ErrDisabled         = errors.New("job is disabled")
)

type Validator interface {
	ValidateJob(job model.IngestionJob) error
}

type JobLister interface {
	ListJobs(ctx context.Context) ([]model.JobRecord, error)
}

type Options struct {
	Executor   *Executor
	Validator  Validator
	Jobs       JobLister
	Events     EventRecorder
	InstanceID string
	Logger     *slog.Logger
	Location   *time.Location
}

type handle struct {
	id      uuid.UUID
	entry   cron.EntryID
	armedAt time.Time
	job     model.IngestionJob
}

type ArmedJob struct {
	JobID    int64     `json:"job_id"`
	Handle   uuid.UUID `json:"handle"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	ArmedAt  time.Time `json:"armed_at"`
	Next     time.Time `json:"next,omitempty"`
}

// Scheduler arms persisted jobs on a cron runner and keeps the job id to handle mapping.
type Scheduler struct {
	cron       *cron.Cron
	exec       *Executor
	validator  Validator
	jobs       JobLister
	events     EventRecorder
	instanceID string
	logger     *slog.Logger

	mu      sync.RWMutex
	handles map[int64]handle
}

func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(model.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		exec:       opts.Executor,
		validator:  opts.Validator,
		jobs:       opts.Jobs,
		events:     opts.Events,
		instanceID: opts.InstanceID,
		logger:     logger,
		handles:    map[int64]handle{},
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop disarms every job and waits for running fires to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for id, h := range s.handles {
		s.cron.Remove(h.entry)
		delete(s.handles, id)
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) Schedule(ctx context.Context, jobID int64, job model.IngestionJob) (uuid.UUID, error) {
	s.mu.Lock()
	if _, ok := s.handles[jobID]; ok {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("job %d: %w", jobID, ErrAlreadyScheduled)
	}
	if !job.Enabled {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("job %d: %w", jobID, ErrDisabled)
	}
	if err := s.validator.ValidateJob(job); err != nil {
		s.mu.Unlock()
		return uuid.Nil, err
	}
	sched, err := job.Schedule.Resolve()
	if err != nil {
		s.mu.Unlock()
		return uuid.Nil, apperr.Validation("job %q: %v", job.Name, err)
	}
	h := handle{id: uuid.New(), armedAt: time.Now().UTC(), job: job}
	h.entry = s.cron.Schedule(sched, s.fire(job))
	s.handles[jobID] = h
	s.mu.Unlock()

	s.logger.Info("job scheduled", "job_id", jobID, "job", job.Name, "schedule", job.Schedule.String(), "handle", h.id)
	recordEvent(ctx, s.events, s.logger, model.NewEvent(s.instanceID, model.EventTaskScheduled,
		fmt.Sprintf("job %s scheduled", job.Name),
		map[string]any{"job_id": jobID, "job": job.Name, "schedule": job.Schedule.String(), "handle": h.id.String()}))
	return h.id, nil
}

// fire binds a copy of job to the cron entry.
func (s *Scheduler) fire(job model.IngestionJob) cron.Job {
	return cron.FuncJob(func() {
		_ = s.exec.Execute(context.Background(), job)
	})
}

// Unschedule reports whether the job was armed. Calling it for an unarmed job is a no-op.
func (s *Scheduler) Unschedule(ctx context.Context, jobID int64) bool {
	s.mu.Lock()
	h, ok := s.handles[jobID]
	if ok {
		s.cron.Remove(h.entry)
		delete(s.handles, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.logger.Info("job unscheduled", "job_id", jobID, "job", h.job.Name, "handle", h.id)
	recordEvent(ctx, s.events, s.logger, model.NewEvent(s.instanceID, model.EventTaskUnscheduled,
		fmt.Sprintf("job %s unscheduled", h.job.Name),
		map[string]any{"job_id": jobID, "job": h.job.Name, "handle": h.id.String()}))
	return true
}

// Reschedule disarms the job and arms it again when enabled. A disabled job returns uuid.Nil.
func (s *Scheduler) Reschedule(ctx context.Context, jobID int64, job model.IngestionJob) (uuid.UUID, error) {
	s.Unschedule(ctx, jobID)
	if !job.Enabled {
		return uuid.Nil, nil
	}
	return s.Schedule(ctx, jobID, job)
}

// LoadFromStore arms every enabled persisted job that is not armed yet and returns how many it armed.
func (s *Scheduler) LoadFromStore(ctx context.Context) (int, error) {
	records, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	armed := 0
	for _, rec := range records {
		if !rec.Job.Enabled || s.IsScheduled(rec.ID) {
			continue
		}
		if _, err := s.Schedule(ctx, rec.ID, rec.Job); err != nil {
			if errors.Is(err, ErrAlreadyScheduled) {
				continue
			}
			s.logger.Error("arm persisted job failed", "job_id", rec.ID, "job", rec.Job.Name, "error", err)
			continue
		}
		armed++
	}
	s.logger.Info("persisted jobs loaded", "total", len(records), "armed", armed)
	return armed, nil
}

func (s *Scheduler) IsScheduled(jobID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[jobID]
	return ok
}

// Armed lists armed jobs by id. Next is zero until the runner has started.
func (s *Scheduler) Armed() []ArmedJob {
	s.mu.RLock()
	out := make([]ArmedJob, 0, len(s.handles))
	for id, h := range s.handles {
		out = append(out, ArmedJob{
			JobID:    id,
			Handle:   h.id,
			Name:     h.job.Name,
			Schedule: h.job.Schedule.String(),
			ArmedAt:  h.armedAt,
			Next:     s.cron.Entry(h.entry).Next,
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// AddSystemJob arms a maintenance task that is not tied to a persisted job.
func (s *Scheduler) AddSystemJob(name string, every time.Duration, fn func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("system job %s: interval must be > 0", name)
	}
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.logger.Debug("system job running", "job", name)
		fn(context.Background())
	}))
	s.logger.Info("system job added", "job", name, "every", every)
	return nil
}

// Trigger runs a job once outside its schedule and returns the execution error.
func (s *Scheduler) Trigger(ctx context.Context, job model.IngestionJob) error {
	if err := s.validator.ValidateJob(job); err != nil {
		return err
	}
	return s.exec.Execute(ctx, job)
}
