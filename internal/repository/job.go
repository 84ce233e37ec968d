package repository

import (
	"context"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

// Usecases and loops depend on interfaces, not the pgx implementations:
// the store can be swapped and tests pass in fakes.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error)
	GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error)

	// List returns all jobs ordered by id ascending, optionally filtered by
	// case-insensitive substring match on name.
	List(ctx context.Context, search string) ([]*domain.ScheduledJob, error)

	// SetActive flips is_active; nextRun is written alongside (non-nil on
	// re-activation so the next scheduler pass picks the job up).
	SetActive(ctx context.Context, id int64, active bool, nextRun *time.Time) error

	// SetNextRun queues a job for immediate execution (RunNow).
	SetNextRun(ctx context.Context, id int64, nextRun time.Time) error

	// Delete removes the job and all of its execution logs in one
	// transaction.
	Delete(ctx context.Context, id int64) error

	// Due returns active jobs with next_run <= now whose dispatch lock is
	// absent or expired.
	Due(ctx context.Context, now time.Time) ([]*domain.ScheduledJob, error)

	// Fire creates a PENDING dispatch for the job and, in the same
	// transaction, advances next_run, records last_dispatched_at and takes
	// the dispatch lock. The lock condition is re-checked inside the
	// transaction; fired=false means another scheduler instance won and
	// nothing was written.
	Fire(ctx context.Context, job *domain.ScheduledJob, nextRun *time.Time, now, lockUntil time.Time) (dispatchID int64, fired bool, err error)
}
