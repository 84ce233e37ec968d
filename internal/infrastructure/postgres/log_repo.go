package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tkwok/triggerd/internal/clock"
	"github.com/tkwok/triggerd/internal/domain"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

func (r *LogRepository) Create(ctx context.Context, entry *domain.JobExecutionLog) (*domain.JobExecutionLog, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO job_execution_logs (job_id, run_time, status, log_output)
		VALUES ($1, $2, $3, $4)
		RETURNING id, job_id, run_time, status, log_output`,
		entry.JobID, entry.RunTime, entry.Status, entry.LogOutput)
	return scanLog(row)
}

func (r *LogRepository) ListByJob(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, run_time, status, log_output
		FROM job_execution_logs
		WHERE job_id = $1
		ORDER BY run_time DESC
		LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.JobExecutionLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanLog(row rowScanner) (*domain.JobExecutionLog, error) {
	var l domain.JobExecutionLog
	err := row.Scan(&l.ID, &l.JobID, &l.RunTime, &l.Status, &l.LogOutput)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scan log: %w", pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("scan log: %w", err)
	}
	l.RunTime = clock.EnsureUTC(l.RunTime)
	return &l, nil
}
