package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tkwok/triggerd/config"
	"github.com/tkwok/triggerd/internal/clock"
	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/email"
	"github.com/tkwok/triggerd/internal/metrics"
	"github.com/tkwok/triggerd/internal/repository"
	"github.com/tkwok/triggerd/internal/schedule"
)

// Housekeeping cadences, in scheduler passes. At the default 10s poll
// interval workers are reaped every 100s, stuck dispatches checked every
// minute and terminal dispatches garbage-collected hourly.
const (
	stuckEvery = 6
	reapEvery  = 10
	gcEvery    = 360
)

// Scheduler is the triggering engine: it owns next_run arithmetic, dispatch
// creation and all background housekeeping. It never executes scripts.
type Scheduler struct {
	jobs       repository.JobRepository
	dispatches repository.DispatchRepository
	workers    repository.WorkerRepository
	mailer     email.Sender
	cfg        *config.Config
	logger     *slog.Logger

	now func() time.Time
}

func New(
	jobs repository.JobRepository,
	dispatches repository.DispatchRepository,
	workers repository.WorkerRepository,
	mailer email.Sender,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		dispatches: dispatches,
		workers:    workers,
		mailer:     mailer,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
		now:        clock.UTCNow,
	}
}

// Run loops until ctx is cancelled. Every pass dispatches due jobs; the
// housekeeping tasks run on their own multiples of the poll interval so a
// single loop drives everything.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.SchedulerPollInterval(),
		"timeout_threshold", s.cfg.JobTimeoutThreshold(),
		"max_retry_attempts", s.cfg.MaxRetryAttempts,
	)

	ticker := time.NewTicker(s.cfg.SchedulerPollInterval())
	defer ticker.Stop()

	var iteration uint64
	for {
		iteration++
		s.pass(ctx, iteration)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pass(ctx context.Context, iteration uint64) {
	start := time.Now()
	defer func() {
		metrics.SchedulerPassDuration.Observe(time.Since(start).Seconds())
	}()

	s.dispatchDue(ctx)

	if iteration%stuckEvery == 0 {
		s.detectStuck(ctx)
	}
	if iteration%reapEvery == 0 {
		s.reapWorkers(ctx)
	}
	if iteration%gcEvery == 0 {
		s.gcDispatches(ctx)
	}
}

// dispatchDue fires every due job: computes the job's next occurrence,
// creates a PENDING dispatch and takes the dispatch lock, all in one
// conditional transaction per job so concurrent scheduler instances cannot
// double-fire.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	due, err := s.jobs.Due(ctx, now)
	if err != nil {
		s.logger.Error("querying due jobs failed", "error", err)
		return
	}

	for _, job := range due {
		nextRun := schedule.NextRun(job, now)
		lockUntil := now.Add(s.cfg.DispatchLockDuration())

		dispatchID, fired, err := s.jobs.Fire(ctx, job, nextRun, now, lockUntil)
		if err != nil {
			s.logger.Error("firing job failed", "job_id", job.ID, "job_name", job.Name, "error", err)
			continue
		}
		if !fired {
			// Another scheduler instance took the lock between our SELECT
			// and the conditional UPDATE.
			s.logger.Debug("job already locked by a peer", "job_id", job.ID)
			continue
		}

		metrics.DispatchesCreatedTotal.WithLabelValues("fresh").Inc()
		s.logger.Info("dispatched job",
			"job_id", job.ID,
			"job_name", job.Name,
			"dispatch_id", dispatchID,
			"next_run", nextRun,
		)
	}
}

// detectStuck converts orphaned IN_PROGRESS dispatches older than the
// timeout threshold to TIMEOUT. Orphaned means the claiming worker's
// registration row is gone; a dispatch whose worker is still registered is
// left alone even past the threshold, since that worker still owns the run
// and will report its own outcome. If the dispatch has retry budget a fresh
// PENDING successor is enqueued in the same transaction; otherwise the
// failure is permanent and an alert goes out.
func (s *Scheduler) detectStuck(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-s.cfg.JobTimeoutThreshold())

	stuck, err := s.dispatches.Stuck(ctx, cutoff)
	if err != nil {
		s.logger.Error("querying stuck dispatches failed", "error", err)
		return
	}

	for _, d := range stuck {
		if d.WorkerID != nil {
			alive, err := s.workers.Exists(ctx, *d.WorkerID)
			if err != nil {
				s.logger.Error("checking worker liveness failed", "worker_id", *d.WorkerID, "error", err)
				continue
			}
			if alive {
				s.logger.Warn("dispatch past timeout threshold, worker still registered",
					"dispatch_id", d.ID,
					"job_id", d.JobID,
					"worker_id", *d.WorkerID,
				)
				continue
			}
		}
		s.timeoutDispatch(ctx, d, now)
	}
}

func (s *Scheduler) timeoutDispatch(ctx context.Context, d *domain.JobDispatch, now time.Time) {
	errMsg := fmt.Sprintf("Job timed out after %d seconds without a completion report", s.cfg.JobTimeoutThresholdSec)
	if d.WorkerID != nil {
		errMsg = fmt.Sprintf("worker %s died during execution", *d.WorkerID)
	}

	runTime := now
	if d.ClaimedAt != nil {
		runTime = *d.ClaimedAt
	}

	retry := d.RetryCount < s.cfg.MaxRetryAttempts

	err := s.dispatches.Timeout(ctx, repository.TimeoutInput{
		DispatchID:   d.ID,
		JobID:        d.JobID,
		Now:          now,
		RunTime:      runTime,
		ErrorMessage: errMsg,
		LogOutput:    errMsg,
		RetryCount:   d.RetryCount,
		CreateRetry:  retry,
	})
	if err != nil {
		s.logger.Error("timing out dispatch failed", "dispatch_id", d.ID, "error", err)
		return
	}

	metrics.StuckTimeoutsTotal.Inc()
	if retry {
		metrics.DispatchesCreatedTotal.WithLabelValues("retry").Inc()
		s.logger.Warn("dispatch timed out, retrying",
			"dispatch_id", d.ID,
			"job_id", d.JobID,
			"retry_count", d.RetryCount+1,
			"reason", errMsg,
		)
		return
	}

	s.logger.Error("dispatch failed permanently",
		"dispatch_id", d.ID,
		"job_id", d.JobID,
		"retry_count", d.RetryCount,
		"reason", errMsg,
	)
	s.alertPermanentFailure(ctx, d, errMsg)
}

func (s *Scheduler) alertPermanentFailure(ctx context.Context, d *domain.JobDispatch, reason string) {
	if s.cfg.AlertEmailTo == "" {
		return
	}

	jobName := fmt.Sprintf("job %d", d.JobID)
	if job, err := s.jobs.GetByID(ctx, d.JobID); err == nil {
		jobName = job.Name
	}

	subject := fmt.Sprintf("[triggerd] %s failed permanently", jobName)
	body := fmt.Sprintf(
		"<p>Job <strong>%s</strong> (id %d) exhausted its retry budget after %d attempts.</p><p>Last failure: %s</p>",
		jobName, d.JobID, d.RetryCount+1, reason,
	)
	if err := s.mailer.Send(ctx, s.cfg.AlertEmailTo, subject, body); err != nil {
		s.logger.Error("sending failure alert failed", "job_id", d.JobID, "error", err)
	}
}

// reapWorkers deletes worker registrations whose heartbeat is past the
// offline threshold. Their IN_PROGRESS dispatches are left alone here; the
// stuck detector picks those up on its own cadence.
func (s *Scheduler) reapWorkers(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.WorkerOfflineThreshold())

	n, err := s.workers.DeleteStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("reaping workers failed", "error", err)
		return
	}
	if n > 0 {
		metrics.WorkersReapedTotal.Add(float64(n))
		s.logger.Warn("reaped stale workers", "count", n)
	}
}

// gcDispatches removes terminal dispatches past the retention window.
// Execution logs are kept; only the dispatch bookkeeping rows go.
func (s *Scheduler) gcDispatches(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.CleanupRetention())

	n, err := s.dispatches.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("dispatch cleanup failed", "error", err)
		return
	}
	if n > 0 {
		metrics.DispatchesGCTotal.Add(float64(n))
		s.logger.Info("cleaned up old dispatches", "count", n)
	}
}
