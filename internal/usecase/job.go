package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkwok/triggerd/config"
	"github.com/tkwok/triggerd/internal/clock"
	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/repository"
	"github.com/tkwok/triggerd/internal/schedule"
)

const defaultLogLimit = 50

// JobService is the control-plane application layer: validation, display
// timezone conversion and read-model decoration on top of the repositories.
type JobService struct {
	jobs       repository.JobRepository
	dispatches repository.DispatchRepository
	workers    repository.WorkerRepository
	logs       repository.LogRepository
	converter  *schedule.Converter
	cfg        *config.Config
	logger     *slog.Logger

	now func() time.Time
}

func NewJobService(
	jobs repository.JobRepository,
	dispatches repository.DispatchRepository,
	workers repository.WorkerRepository,
	logs repository.LogRepository,
	converter *schedule.Converter,
	cfg *config.Config,
	logger *slog.Logger,
) *JobService {
	return &JobService{
		jobs:       jobs,
		dispatches: dispatches,
		workers:    workers,
		logs:       logs,
		converter:  converter,
		cfg:        cfg,
		logger:     logger.With("component", "jobs"),
		now:        clock.UTCNow,
	}
}

// JobView is a job decorated for the dashboard: schedule fields converted
// to the display timezone plus human-readable recurrence strings and the
// live dispatch state.
type JobView struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	ScriptPath        string     `json:"script_path"`
	ScriptArgs        *string    `json:"script_args"`
	ScheduleType      string     `json:"schedule_type"`
	IntervalSeconds   int        `json:"interval_seconds"`
	ScheduleTime      *string    `json:"schedule_time"`
	ScheduleDay       *int       `json:"schedule_day"`
	FormattedSchedule string     `json:"formatted_schedule"`
	FormattedInterval string     `json:"formatted_interval"`
	IsActive          bool       `json:"is_active"`
	NextRun           *time.Time `json:"next_run"`
	LastDispatchedAt  *time.Time `json:"last_dispatched_at"`
	Queued            bool       `json:"queued"`
	Running           bool       `json:"running"`
}

// ListJobs returns all jobs, optionally filtered by name substring, with
// schedule fields rendered in the display timezone and queued/running flags
// derived from the jobs' non-terminal dispatches.
func (s *JobService) ListJobs(ctx context.Context, search string) ([]JobView, error) {
	jobs, err := s.jobs.List(ctx, search)
	if err != nil {
		return nil, err
	}

	active, err := s.dispatches.ActiveByJob(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, s.view(job, active[job.ID]))
	}
	return views, nil
}

func (s *JobService) view(job *domain.ScheduledJob, active domain.DispatchStatus) JobView {
	v := JobView{
		ID:                job.ID,
		Name:              job.Name,
		ScriptPath:        job.ScriptPath,
		ScriptArgs:        job.ScriptArgs,
		ScheduleType:      string(job.ScheduleType),
		IntervalSeconds:   job.IntervalSeconds,
		ScheduleTime:      job.ScheduleTime,
		ScheduleDay:       job.ScheduleDay,
		FormattedSchedule: s.converter.FormatRecurrence(job),
		FormattedInterval: schedule.FormatInterval(job.IntervalSeconds),
		IsActive:          job.IsActive,
		NextRun:           job.NextRun,
		LastDispatchedAt:  job.LastDispatchedAt,
		Queued:            active == domain.DispatchPending,
		Running:           active == domain.DispatchInProgress,
	}

	if job.ScheduleTime != nil {
		displayTime, displayDay, err := s.converter.ToDisplay(job.ScheduleType, *job.ScheduleTime, job.ScheduleDay)
		if err == nil {
			v.ScheduleTime = &displayTime
			v.ScheduleDay = displayDay
		}
	}
	return v
}

// CreateJobInput carries user-entered fields. ScheduleTime and ScheduleDay
// are in the display timezone; conversion to UTC happens here.
type CreateJobInput struct {
	Name            string
	ScriptPath      string
	ScriptArgs      *string
	IntervalSeconds int
	ScheduleType    string
	ScheduleTime    *string
	ScheduleDay     *int
	IsActive        bool
}

// CreateJob validates the input, converts the schedule to UTC storage form
// and inserts the job. Non-manual jobs get next_run set to now so the first
// dispatch happens on the next scheduler pass; the recurrence takes over
// from there.
func (s *JobService) CreateJob(ctx context.Context, input CreateJobInput) (*JobView, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidSchedule)
	}

	kind := domain.ScheduleType(input.ScheduleType)
	if kind == "" {
		kind = domain.ScheduleInterval
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown schedule type %q", domain.ErrInvalidSchedule, input.ScheduleType)
	}
	if kind == domain.ScheduleInterval && input.IntervalSeconds < 1 {
		return nil, fmt.Errorf("%w: interval must be at least 1 second", domain.ErrInvalidSchedule)
	}

	scriptPath, err := s.resolveScript(input.ScriptPath)
	if err != nil {
		return nil, err
	}

	var storedTime *string
	var storedDay *int
	if input.ScheduleTime != nil && *input.ScheduleTime != "" {
		t, d, err := s.converter.ToStorage(kind, *input.ScheduleTime, input.ScheduleDay)
		if err != nil {
			return nil, err
		}
		storedTime, storedDay = &t, d
	} else if kind == domain.ScheduleWeekly || kind == domain.ScheduleMonthly {
		// Default 00:00 still needs the day shifted into UTC.
		t, d, err := s.converter.ToStorage(kind, "00:00", input.ScheduleDay)
		if err != nil {
			return nil, err
		}
		storedTime, storedDay = &t, d
	}

	job := &domain.ScheduledJob{
		Name:            name,
		ScriptPath:      scriptPath,
		ScriptArgs:      input.ScriptArgs,
		IntervalSeconds: input.IntervalSeconds,
		ScheduleType:    kind,
		ScheduleTime:    storedTime,
		ScheduleDay:     storedDay,
		IsActive:        input.IsActive,
	}

	if kind != domain.ScheduleManual && input.IsActive {
		now := s.now()
		job.NextRun = &now
	}

	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", created.ID, "name", created.Name, "schedule_type", kind)

	v := s.view(created, "")
	return &v, nil
}

// resolveScript keeps script paths inside the configured scripts directory
// and verifies the file exists. Absolute paths and traversal out of the
// directory are rejected.
func (s *JobService) resolveScript(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", fmt.Errorf("%w: script_path is required", domain.ErrInvalidSchedule)
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: script_path must be relative to the scripts directory", domain.ErrInvalidSchedule)
	}

	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: script_path escapes the scripts directory", domain.ErrInvalidSchedule)
	}

	full := filepath.Join(s.cfg.ScriptsDir, clean)
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrScriptNotFound, clean)
	}
	return clean, nil
}

// ToggleActive flips is_active. Re-activation resets next_run to now so the
// job fires on the next pass instead of replaying a stale next_run.
func (s *JobService) ToggleActive(ctx context.Context, id int64) (*JobView, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	active := !job.IsActive
	var nextRun *time.Time
	if active && job.ScheduleType != domain.ScheduleManual {
		now := s.now()
		nextRun = &now
	}

	if err := s.jobs.SetActive(ctx, id, active, nextRun); err != nil {
		return nil, err
	}
	s.logger.Info("job toggled", "job_id", id, "is_active", active)

	job.IsActive = active
	job.NextRun = nextRun
	v := s.view(job, "")
	return &v, nil
}

// RunNow queues an immediate execution by pulling next_run to now. Works
// for manual jobs too; inactive jobs are refused.
func (s *JobService) RunNow(ctx context.Context, id int64) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsActive {
		return domain.ErrJobInactive
	}

	if err := s.jobs.SetNextRun(ctx, id, s.now()); err != nil {
		return err
	}
	s.logger.Info("job queued for immediate run", "job_id", id)
	return nil
}

// DeleteJob removes the job and its execution history.
func (s *JobService) DeleteJob(ctx context.Context, id int64) error {
	if err := s.jobs.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", "job_id", id)
	return nil
}

// ListLogs returns the most recent executions for a job, newest first.
func (s *JobService) ListLogs(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	return s.logs.ListByJob(ctx, jobID, limit)
}
