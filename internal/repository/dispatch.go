package repository

import (
	"context"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

// TimeoutInput marks a stuck dispatch TIMEOUT, writes the compensating
// execution log and, when CreateRetry is set, enqueues the successor
// dispatch, all in one transaction.
type TimeoutInput struct {
	DispatchID   int64
	JobID        int64
	Now          time.Time
	RunTime      time.Time // the dispatch's claimed_at, falling back to Now
	ErrorMessage string
	LogOutput    string
	RetryCount   int // the stuck dispatch's own count
	CreateRetry  bool
}

// ReportInput closes out an executed dispatch: terminal status, execution
// log row, and the reporting worker's counters in one transaction.
type ReportInput struct {
	DispatchID   int64
	JobID        int64
	WorkerID     string
	Status       domain.DispatchStatus
	ExecStatus   domain.ExecutionStatus
	CompletedAt  time.Time
	RunTime      time.Time
	LogOutput    string
	ErrorMessage *string // nil on success; already truncated by the caller
}

type DispatchRepository interface {
	// Create inserts a PENDING dispatch; retryCount is 0 for fresh
	// dispatches and predecessor+1 for retries.
	Create(ctx context.Context, jobID int64, retryCount int) (*domain.JobDispatch, error)

	GetByID(ctx context.Context, id int64) (*domain.JobDispatch, error)

	// OldestPending returns the PENDING dispatch with the smallest
	// created_at, or domain.ErrDispatchNotFound.
	OldestPending(ctx context.Context) (*domain.JobDispatch, error)

	// Claim is the conditional PENDING→IN_PROGRESS update. claimed=false
	// means zero rows were affected: another worker won the race.
	Claim(ctx context.Context, dispatchID int64, workerID string, now time.Time) (claimed bool, err error)

	// Report finalises an executed dispatch (see ReportInput).
	Report(ctx context.Context, input ReportInput) error

	// Release reverts every IN_PROGRESS dispatch held by workerID back to
	// PENDING with worker_id and claimed_at cleared. Used on graceful
	// shutdown so another worker can pick the work up.
	Release(ctx context.Context, workerID string) (int, error)

	// Stuck returns IN_PROGRESS dispatches claimed before cutoff.
	Stuck(ctx context.Context, cutoff time.Time) ([]*domain.JobDispatch, error)

	// Timeout handles one stuck dispatch (see TimeoutInput).
	Timeout(ctx context.Context, input TimeoutInput) error

	// DeleteTerminalBefore garbage-collects terminal dispatches whose
	// completed_at predates cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// ActiveByJob returns, per job id, the status of its non-terminal
	// dispatch (PENDING or IN_PROGRESS). Used to decorate job listings.
	ActiveByJob(ctx context.Context) (map[int64]domain.DispatchStatus, error)
}
