package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tkwok/triggerd/internal/clock"
	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/repository"
)

const dispatchColumns = `id, job_id, created_at, claimed_at, completed_at,
	       status, worker_id, retry_count, error_message`

type DispatchRepository struct {
	pool *pgxpool.Pool
}

func NewDispatchRepository(pool *pgxpool.Pool) *DispatchRepository {
	return &DispatchRepository{pool: pool}
}

func (r *DispatchRepository) Create(ctx context.Context, jobID int64, retryCount int) (*domain.JobDispatch, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO job_dispatch (job_id, status, retry_count)
		VALUES ($1, 'PENDING', $2)
		RETURNING `+dispatchColumns,
		jobID, retryCount)
	return scanDispatch(row)
}

func (r *DispatchRepository) GetByID(ctx context.Context, id int64) (*domain.JobDispatch, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM job_dispatch WHERE id = $1`, id)
	return scanDispatch(row)
}

func (r *DispatchRepository) OldestPending(ctx context.Context) (*domain.JobDispatch, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+dispatchColumns+`
		FROM job_dispatch
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT 1`)
	return scanDispatch(row)
}

// Claim flips PENDING to IN_PROGRESS only if the row is still PENDING.
// Zero rows affected means another worker beat us to it.
func (r *DispatchRepository) Claim(ctx context.Context, dispatchID int64, workerID string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_dispatch
		SET    status     = 'IN_PROGRESS',
		       worker_id  = $2,
		       claimed_at = $3
		WHERE  id = $1 AND status = 'PENDING'`,
		dispatchID, workerID, now)
	if err != nil {
		return false, fmt.Errorf("claim dispatch %d: %w", dispatchID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DispatchRepository) Report(ctx context.Context, input repository.ReportInput) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE job_dispatch
		SET    status        = $2,
		       completed_at  = $3,
		       error_message = $4
		WHERE  id = $1 AND status = 'IN_PROGRESS'`,
		input.DispatchID, input.Status, input.CompletedAt, input.ErrorMessage)
	if err != nil {
		return fmt.Errorf("complete dispatch %d: %w", input.DispatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDispatchNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_execution_logs (job_id, run_time, status, log_output)
		VALUES ($1, $2, $3, $4)`,
		input.JobID, input.RunTime, input.ExecStatus, input.LogOutput); err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}

	// Fold the worker back to IDLE in the same transaction so the counters
	// and the dispatch state never disagree.
	if _, err := tx.Exec(ctx, `
		UPDATE worker_registration
		SET    last_heartbeat = $2,
		       status         = 'IDLE',
		       current_job_id = NULL,
		       jobs_processed = jobs_processed + 1
		WHERE  worker_id = $1`,
		input.WorkerID, input.CompletedAt); err != nil {
		return fmt.Errorf("update worker counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *DispatchRepository) Release(ctx context.Context, workerID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_dispatch
		SET    status     = 'PENDING',
		       worker_id  = NULL,
		       claimed_at = NULL
		WHERE  worker_id = $1 AND status = 'IN_PROGRESS'`,
		workerID)
	if err != nil {
		return 0, fmt.Errorf("release dispatches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *DispatchRepository) Stuck(ctx context.Context, cutoff time.Time) ([]*domain.JobDispatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dispatchColumns+`
		FROM job_dispatch
		WHERE status = 'IN_PROGRESS' AND claimed_at < $1
		ORDER BY claimed_at ASC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("stuck dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []*domain.JobDispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		dispatches = append(dispatches, d)
	}
	return dispatches, rows.Err()
}

func (r *DispatchRepository) Timeout(ctx context.Context, input repository.TimeoutInput) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Guard on IN_PROGRESS: if the worker somehow reported in between the
	// stuck scan and this transaction, leave its result alone.
	tag, err := tx.Exec(ctx, `
		UPDATE job_dispatch
		SET    status        = 'TIMEOUT',
		       completed_at  = $2,
		       error_message = $3
		WHERE  id = $1 AND status = 'IN_PROGRESS'`,
		input.DispatchID, input.Now, domain.TruncateError(input.ErrorMessage))
	if err != nil {
		return fmt.Errorf("timeout dispatch %d: %w", input.DispatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDispatchNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_execution_logs (job_id, run_time, status, log_output)
		VALUES ($1, $2, 'TIMEOUT', $3)`,
		input.JobID, input.RunTime, input.LogOutput); err != nil {
		return fmt.Errorf("insert timeout log: %w", err)
	}

	if input.CreateRetry {
		if _, err := tx.Exec(ctx, `
			INSERT INTO job_dispatch (job_id, status, retry_count)
			VALUES ($1, 'PENDING', $2)`,
			input.JobID, input.RetryCount+1); err != nil {
			return fmt.Errorf("insert retry dispatch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *DispatchRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM job_dispatch
		WHERE status IN ('COMPLETED', 'FAILED', 'TIMEOUT')
		  AND completed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc dispatches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *DispatchRepository) ActiveByJob(ctx context.Context) (map[int64]domain.DispatchStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, status
		FROM job_dispatch
		WHERE status IN ('PENDING', 'IN_PROGRESS')`)
	if err != nil {
		return nil, fmt.Errorf("active dispatches: %w", err)
	}
	defer rows.Close()

	active := make(map[int64]domain.DispatchStatus)
	for rows.Next() {
		var jobID int64
		var status domain.DispatchStatus
		if err := rows.Scan(&jobID, &status); err != nil {
			return nil, fmt.Errorf("scan active dispatch: %w", err)
		}
		// IN_PROGRESS outranks PENDING when a retry is already queued
		if active[jobID] != domain.DispatchInProgress {
			active[jobID] = status
		}
	}
	return active, rows.Err()
}

func scanDispatch(row rowScanner) (*domain.JobDispatch, error) {
	var d domain.JobDispatch
	err := row.Scan(
		&d.ID, &d.JobID, &d.CreatedAt, &d.ClaimedAt, &d.CompletedAt,
		&d.Status, &d.WorkerID, &d.RetryCount, &d.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDispatchNotFound
		}
		return nil, fmt.Errorf("scan dispatch: %w", err)
	}
	d.CreatedAt = clock.EnsureUTC(d.CreatedAt)
	d.ClaimedAt = clock.EnsureUTCPtr(d.ClaimedAt)
	d.CompletedAt = clock.EnsureUTCPtr(d.CompletedAt)
	return &d, nil
}
