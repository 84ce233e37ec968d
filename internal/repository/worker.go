package repository

import (
	"context"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

type WorkerRepository interface {
	// Register inserts the worker row, replacing any leftover row with the
	// same worker_id (delete-then-insert on collision).
	Register(ctx context.Context, w *domain.WorkerRegistration) error

	// Heartbeat writes last_heartbeat, status, current_job_id and
	// jobs_processed. found=false means the row vanished (reaped) and the
	// worker must re-register.
	Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64, jobsProcessed int, now time.Time) (found bool, err error)

	Exists(ctx context.Context, workerID string) (bool, error)

	Delete(ctx context.Context, workerID string) error

	// DeleteStale reaps rows whose last_heartbeat predates cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)

	List(ctx context.Context) ([]*domain.WorkerRegistration, error)
}
