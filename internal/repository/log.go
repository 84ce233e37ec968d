package repository

import (
	"context"

	"github.com/tkwok/triggerd/internal/domain"
)

type LogRepository interface {
	Create(ctx context.Context, entry *domain.JobExecutionLog) (*domain.JobExecutionLog, error)

	// ListByJob returns the most recent executions for a job, ordered by
	// run_time descending.
	ListByJob(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error)
}
