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

const workerColumns = `worker_id, hostname, platform, started_at, last_heartbeat,
	       status, jobs_processed, current_job_id, process_id`

type WorkerRepository struct {
	pool *pgxpool.Pool
}

func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

// Register replaces any leftover row for the same worker_id. A collision
// only happens when a previous process with this id died without cleanup,
// so the stale row is deleted rather than merged.
func (r *WorkerRepository) Register(ctx context.Context, w *domain.WorkerRegistration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM worker_registration WHERE worker_id = $1`, w.WorkerID); err != nil {
		return fmt.Errorf("delete stale registration: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO worker_registration (
			worker_id, hostname, platform, started_at, last_heartbeat,
			status, jobs_processed, current_job_id, process_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.WorkerID, w.Hostname, w.Platform, w.StartedAt, w.LastHeartbeat,
		w.Status, w.JobsProcessed, w.CurrentJobID, w.ProcessID); err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *WorkerRepository) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64, jobsProcessed int, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE worker_registration
		SET    last_heartbeat = $2,
		       status         = $3,
		       current_job_id = $4,
		       jobs_processed = $5
		WHERE  worker_id = $1`,
		workerID, now, status, currentJobID, jobsProcessed)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WorkerRepository) Exists(ctx context.Context, workerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM worker_registration WHERE worker_id = $1)`,
		workerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("worker exists: %w", err)
	}
	return exists, nil
}

func (r *WorkerRepository) Delete(ctx context.Context, workerID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM worker_registration WHERE worker_id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (r *WorkerRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM worker_registration WHERE last_heartbeat < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap workers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *WorkerRepository) List(ctx context.Context) ([]*domain.WorkerRegistration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM worker_registration ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*domain.WorkerRegistration
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func scanWorker(row rowScanner) (*domain.WorkerRegistration, error) {
	var w domain.WorkerRegistration
	err := row.Scan(
		&w.WorkerID, &w.Hostname, &w.Platform, &w.StartedAt, &w.LastHeartbeat,
		&w.Status, &w.JobsProcessed, &w.CurrentJobID, &w.ProcessID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	w.StartedAt = clock.EnsureUTC(w.StartedAt)
	w.LastHeartbeat = clock.EnsureUTC(w.LastHeartbeat)
	return &w, nil
}
