package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/tkwok/triggerd/config"
	"github.com/tkwok/triggerd/internal/clock"
	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/metrics"
	"github.com/tkwok/triggerd/internal/repository"
)

const pollBackoffFactor = 1.5

// Worker polls for PENDING dispatches, claims them one at a time and runs
// the referenced scripts. One worker executes at most one job at a time;
// parallelism comes from running more worker processes.
type Worker struct {
	id         string
	jobs       repository.JobRepository
	dispatches repository.DispatchRepository
	workers    repository.WorkerRepository
	executor   *Executor
	cfg        *config.Config
	logger     *slog.Logger

	now func() time.Time

	mu            sync.Mutex
	status        domain.WorkerStatus
	currentJobID  *int64
	jobsProcessed int
}

func New(
	jobs repository.JobRepository,
	dispatches repository.DispatchRepository,
	workers repository.WorkerRepository,
	executor *Executor,
	cfg *config.Config,
	logger *slog.Logger,
) *Worker {
	id := "worker-" + uuid.NewString()[:8]
	return &Worker{
		id:         id,
		jobs:       jobs,
		dispatches: dispatches,
		workers:    workers,
		executor:   executor,
		cfg:        cfg,
		logger:     logger.With("component", "worker", "worker_id", id),
		now:        clock.UTCNow,
		status:     domain.WorkerIdle,
	}
}

func (w *Worker) ID() string { return w.id }

// Run registers the worker, starts the heartbeat goroutine and polls until
// ctx is cancelled. On shutdown any claimed dispatch is released back to
// PENDING and the registration row is removed.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	metrics.WorkerStartTime.SetToCurrentTime()
	w.logger.Info("worker started",
		"poll_interval", w.cfg.WorkerPollInterval(),
		"job_timeout", w.cfg.WorkerJobTimeout(),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()

	w.pollLoop(ctx)
	wg.Wait()

	w.shutdown()
	return ctx.Err()
}

func (w *Worker) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	platform := "unknown"
	if info, err := host.InfoWithContext(ctx); err == nil {
		platform = info.Platform + " " + info.PlatformVersion
		if hostname == "" {
			hostname = info.Hostname
		}
	}
	pid := os.Getpid()

	now := w.now()
	reg := &domain.WorkerRegistration{
		WorkerID:      w.id,
		Hostname:      hostname,
		Platform:      platform,
		StartedAt:     now,
		LastHeartbeat: now,
		Status:        domain.WorkerIdle,
		ProcessID:     &pid,
	}
	if err := w.workers.Register(ctx, reg); err != nil {
		return err
	}
	w.logger.Info("worker registered", "hostname", hostname, "platform", platform, "pid", pid)
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WorkerHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		}
	}
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	w.mu.Lock()
	status := w.status
	currentJobID := w.currentJobID
	processed := w.jobsProcessed
	w.mu.Unlock()

	found, err := w.workers.Heartbeat(ctx, w.id, status, currentJobID, processed, w.now())
	if err != nil {
		w.logger.Error("heartbeat failed", "error", err)
		return
	}
	if !found {
		// Reaped by the scheduler, likely after a long GC pause or network
		// partition. Re-register and carry on.
		w.logger.Warn("registration row missing, re-registering")
		if err := w.register(ctx); err != nil {
			w.logger.Error("re-registration failed", "error", err)
		}
	}
}

// pollLoop claims and executes dispatches. The poll interval backs off
// multiplicatively while the queue is empty and snaps back to the base
// interval after every successful claim.
func (w *Worker) pollLoop(ctx context.Context) {
	interval := w.cfg.WorkerPollInterval()
	maxInterval := w.cfg.WorkerMaxPollInterval()

	for {
		claimed := w.pollOnce(ctx)
		if claimed {
			interval = w.cfg.WorkerPollInterval()
		} else {
			interval = nextPollInterval(interval, maxInterval)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func nextPollInterval(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * pollBackoffFactor)
	if next > max {
		return max
	}
	return next
}

// pollOnce attempts one claim-and-execute cycle. Returns false when there
// was nothing to claim or the claim was lost to another worker.
func (w *Worker) pollOnce(ctx context.Context) bool {
	d, err := w.dispatches.OldestPending(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrDispatchNotFound) {
			w.logger.Error("polling for dispatches failed", "error", err)
		}
		return false
	}

	claimedAt := w.now()
	claimed, err := w.dispatches.Claim(ctx, d.ID, w.id, claimedAt)
	if err != nil {
		w.logger.Error("claiming dispatch failed", "dispatch_id", d.ID, "error", err)
		return false
	}
	if !claimed {
		metrics.ClaimsLostTotal.Inc()
		w.logger.Debug("lost claim race", "dispatch_id", d.ID)
		return false
	}

	metrics.DispatchPickupLatency.Observe(claimedAt.Sub(d.CreatedAt).Seconds())
	w.logger.Info("claimed dispatch", "dispatch_id", d.ID, "job_id", d.JobID, "retry_count", d.RetryCount)

	w.runDispatch(ctx, d, claimedAt)
	return true
}

func (w *Worker) runDispatch(ctx context.Context, d *domain.JobDispatch, claimedAt time.Time) {
	w.setBusy(ctx, d.JobID)
	defer w.setIdle()

	job, err := w.jobs.GetByID(ctx, d.JobID)
	if err != nil {
		msg := domain.TruncateError("Job row missing at execution time: " + err.Error())
		w.report(ctx, d, claimedAt, ExecResult{
			Status:       domain.ExecError,
			LogOutput:    msg,
			ErrorMessage: &msg,
		})
		return
	}

	result := w.executor.Execute(ctx, job)
	metrics.JobExecutionDuration.WithLabelValues(string(result.Status)).Observe(result.Duration.Seconds())
	metrics.JobsProcessedTotal.WithLabelValues(string(result.Status)).Inc()

	w.report(ctx, d, claimedAt, result)
}

func (w *Worker) report(ctx context.Context, d *domain.JobDispatch, claimedAt time.Time, result ExecResult) {
	status := domain.DispatchFailed
	if result.Status == domain.ExecSuccess {
		status = domain.DispatchCompleted
	}

	var errMsg *string
	if result.ErrorMessage != nil {
		truncated := domain.TruncateError(*result.ErrorMessage)
		errMsg = &truncated
	}

	input := repository.ReportInput{
		DispatchID:   d.ID,
		JobID:        d.JobID,
		WorkerID:     w.id,
		Status:       status,
		ExecStatus:   result.Status,
		CompletedAt:  w.now(),
		RunTime:      claimedAt,
		LogOutput:    result.LogOutput,
		ErrorMessage: errMsg,
	}
	if err := w.dispatches.Report(ctx, input); err != nil {
		// The scheduler's stuck detector will eventually TIMEOUT this
		// dispatch; losing the report is recoverable.
		w.logger.Error("reporting dispatch result failed", "dispatch_id", d.ID, "error", err)
		return
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	w.logger.Info("dispatch finished",
		"dispatch_id", d.ID,
		"job_id", d.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)
}

// setBusy flips the in-memory state and pushes an immediate heartbeat so
// the dashboard reflects the running job without waiting a full interval.
func (w *Worker) setBusy(ctx context.Context, jobID int64) {
	w.mu.Lock()
	w.status = domain.WorkerBusy
	w.currentJobID = &jobID
	w.mu.Unlock()
	w.sendHeartbeat(ctx)
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	w.status = domain.WorkerIdle
	w.currentJobID = nil
	w.mu.Unlock()
}

// shutdown releases any still-claimed dispatch back to PENDING and removes
// the registration row. Runs with a fresh context: the run context is
// already cancelled by the time we get here.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	released, err := w.dispatches.Release(ctx, w.id)
	if err != nil {
		w.logger.Error("releasing dispatches on shutdown failed", "error", err)
	} else if released > 0 {
		w.logger.Info("released claimed dispatches", "count", released)
	}

	if err := w.workers.Delete(ctx, w.id); err != nil {
		w.logger.Error("deregistering failed", "error", err)
	}
	w.logger.Info("worker stopped")
}
