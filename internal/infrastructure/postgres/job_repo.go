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
)

const jobColumns = `id, name, script_path, script_args, interval_seconds,
	       schedule_type, schedule_time, schedule_day, is_active,
	       next_run, last_dispatched_at, dispatch_lock_until`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error) {
	query := `
		INSERT INTO scheduled_jobs (
			name, script_path, script_args, interval_seconds, schedule_type,
			schedule_time, schedule_day, is_active, next_run
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query,
		job.Name,
		job.ScriptPath,
		job.ScriptArgs,
		job.IntervalSeconds,
		job.ScheduleType,
		job.ScheduleTime,
		job.ScheduleDay,
		job.IsActive,
		job.NextRun,
	)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context, search string) ([]*domain.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	args := []any{}
	if search != "" {
		query += ` WHERE name ILIKE '%' || $1 || '%'`
		args = append(args, search)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) SetActive(ctx context.Context, id int64, active bool, nextRun *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET is_active = $2, next_run = $3 WHERE id = $1`,
		id, active, nextRun)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) SetNextRun(ctx context.Context, id int64, nextRun time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET next_run = $2 WHERE id = $1`,
		id, nextRun)
	if err != nil {
		return fmt.Errorf("set next_run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Delete removes the job and its execution history together so a failed
// log purge can never orphan the rows.
func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM job_execution_logs WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete job logs: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Due(ctx context.Context, now time.Time) ([]*domain.ScheduledJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE is_active
		  AND next_run IS NOT NULL
		  AND next_run <= $1
		  AND (dispatch_lock_until IS NULL OR dispatch_lock_until < $1)
		ORDER BY next_run ASC`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Fire re-checks the dispatch lock inside its transaction, so two
// scheduler instances racing on the same due job write exactly one
// dispatch between them: the loser's conditional update hits zero rows
// and everything is rolled back.
func (r *JobRepository) Fire(ctx context.Context, job *domain.ScheduledJob, nextRun *time.Time, now, lockUntil time.Time) (int64, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE scheduled_jobs
		SET    next_run            = $2,
		       last_dispatched_at  = $3,
		       dispatch_lock_until = $4
		WHERE  id = $1
		  AND  is_active
		  AND  (dispatch_lock_until IS NULL OR dispatch_lock_until < $3)`,
		job.ID, nextRun, now, lockUntil)
	if err != nil {
		return 0, false, fmt.Errorf("advance job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, false, nil
	}

	var dispatchID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO job_dispatch (job_id, status, retry_count, created_at)
		VALUES ($1, 'PENDING', 0, $2)
		RETURNING id`,
		job.ID, now,
	).Scan(&dispatchID)
	if err != nil {
		return 0, false, fmt.Errorf("insert dispatch for job %d: %w", job.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit tx: %w", err)
	}
	return dispatchID, true, nil
}

func scanJob(row rowScanner) (*domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	err := row.Scan(
		&j.ID, &j.Name, &j.ScriptPath, &j.ScriptArgs, &j.IntervalSeconds,
		&j.ScheduleType, &j.ScheduleTime, &j.ScheduleDay, &j.IsActive,
		&j.NextRun, &j.LastDispatchedAt, &j.DispatchLockUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.NextRun = clock.EnsureUTCPtr(j.NextRun)
	j.LastDispatchedAt = clock.EnsureUTCPtr(j.LastDispatchedAt)
	j.DispatchLockUntil = clock.EnsureUTCPtr(j.DispatchLockUntil)
	return &j, nil
}
