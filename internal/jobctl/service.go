package jobctl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ingestd/internal/model"
	"ingestd/internal/scheduler"
	"ingestd/internal/storage"
)

// JobScheduler is the part of *scheduler.Scheduler the service drives.
type JobScheduler interface {
	Schedule(ctx context.Context, jobID int64, job model.IngestionJob) (uuid.UUID, error)
	Unschedule(ctx context.Context, jobID int64) bool
	Reschedule(ctx context.Context, jobID int64, job model.IngestionJob) (uuid.UUID, error)
	Armed() []scheduler.ArmedJob
	Trigger(ctx context.Context, job model.IngestionJob) error
}

// Service keeps persisted job definitions and armed schedules in step.
type Service struct {
	jobs       storage.JobStore
	events     scheduler.EventRecorder
	sched      JobScheduler
	validator  scheduler.Validator
	instanceID string
	logger     *slog.Logger
}

func NewService(jobs storage.JobStore, events scheduler.EventRecorder, sched JobScheduler, validator scheduler.Validator, instanceID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, events: events, sched: sched, validator: validator, instanceID: instanceID, logger: logger}
}

// Create persists the job and arms it when enabled. Scheduling failures are logged, not returned:
// the definition is kept and can be fixed with Update.
func (s *Service) Create(ctx context.Context, job model.IngestionJob) (model.JobRecord, error) {
	job = job.WithDefaults()
	if err := s.validator.ValidateJob(job); err != nil {
		return model.JobRecord{}, err
	}
	rec, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return model.JobRecord{}, err
	}
	if rec.Job.Enabled {
		if _, err := s.sched.Schedule(ctx, rec.ID, rec.Job); err != nil {
			s.logger.Error("schedule new job failed", "job_id", rec.ID, "job", rec.Job.Name, "error", err)
		}
	}
	s.event(ctx, model.EventJobCreated, rec)
	return rec, nil
}

func (s *Service) Update(ctx context.Context, id int64, job model.IngestionJob) (model.JobRecord, error) {
	job = job.WithDefaults()
	if err := s.validator.ValidateJob(job); err != nil {
		return model.JobRecord{}, err
	}
	rec, err := s.jobs.UpdateJob(ctx, id, job)
	if err != nil {
		return model.JobRecord{}, err
	}
	if _, err := s.sched.Reschedule(ctx, rec.ID, rec.Job); err != nil {
		s.logger.Error("reschedule job failed", "job_id", rec.ID, "job", rec.Job.Name, "error", err)
	}
	s.event(ctx, model.EventJobUpdated, rec)
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	rec, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.sched.Unschedule(ctx, id)
	s.event(ctx, model.EventJobDeleted, rec)
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.JobRecord, error) {
	return s.jobs.GetJob(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]model.JobRecord, error) {
	return s.jobs.ListJobs(ctx)
}

func (s *Service) Armed() []scheduler.ArmedJob {
	return s.sched.Armed()
}

// Trigger runs a persisted job once, whether or not it is armed.
func (s *Service) Trigger(ctx context.Context, id int64) error {
	rec, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return s.sched.Trigger(ctx, rec.Job)
}

// Seed inserts jobs that do not exist yet by name and returns how many were inserted. Invalid
// definitions are logged and skipped.
func (s *Service) Seed(ctx context.Context, jobs []model.IngestionJob) (int, error) {
	inserted := 0
	for _, job := range jobs {
		job = job.WithDefaults()
		if err := s.validator.ValidateJob(job); err != nil {
			s.logger.Warn("skipping invalid seed job", "job", job.Name, "error", err)
			continue
		}
		ok, err := s.jobs.InsertJobIfNotExists(ctx, job)
		if err != nil {
			return inserted, fmt.Errorf("seed job %q: %w", job.Name, err)
		}
		if ok {
			inserted++
			s.event(ctx, model.EventJobCreated, model.JobRecord{Job: job})
		}
	}
	return inserted, nil
}

func (s *Service) event(ctx context.Context, typ model.EventType, rec model.JobRecord) {
	if s.events == nil {
		return
	}
	ev := model.NewEvent(s.instanceID, typ, fmt.Sprintf("%s: %s", typ, rec.Job.Name),
		map[string]any{"job_id": rec.ID, "job": rec.Job.Name, "datasource": rec.Job.DataSource, "method": rec.Job.Method})
	if err := s.events.StoreEvent(ctx, ev); err != nil {
		s.logger.Warn("event write failed", "event_type", typ, "error", err)
	}
}
