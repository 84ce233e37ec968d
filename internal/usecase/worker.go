package usecase

import (
	"context"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

// WorkerView is one live worker row for the dashboard.
type WorkerView struct {
	WorkerID      string    `json:"worker_id"`
	Hostname      string    `json:"hostname"`
	Platform      string    `json:"platform"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	JobsProcessed int       `json:"jobs_processed"`
	CurrentJobID  *int64    `json:"current_job_id"`
	ProcessID     *int      `json:"process_id"`
	Primary       bool      `json:"primary"`
	Uptime        string    `json:"uptime"`
}

// WorkersView is the worker fleet summary.
type WorkersView struct {
	Count   int          `json:"count"`
	Workers []WorkerView `json:"workers"`
}

// WorkerStatus lists workers whose heartbeat is within the offline
// threshold. The live worker with the most processed jobs is marked
// primary; rows past the threshold are filtered out rather than shown as
// OFFLINE since the scheduler will reap them shortly anyway.
func (s *JobService) WorkerStatus(ctx context.Context) (*WorkersView, error) {
	all, err := s.workers.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	threshold := s.cfg.WorkerOfflineThreshold()

	var live []*domain.WorkerRegistration
	for _, w := range all {
		if w.Live(now, threshold) {
			live = append(live, w)
		}
	}

	primaryIdx := -1
	for i, w := range live {
		if primaryIdx == -1 || w.JobsProcessed > live[primaryIdx].JobsProcessed {
			primaryIdx = i
		}
	}

	view := &WorkersView{Count: len(live), Workers: make([]WorkerView, 0, len(live))}
	for i, w := range live {
		view.Workers = append(view.Workers, WorkerView{
			WorkerID:      w.WorkerID,
			Hostname:      w.Hostname,
			Platform:      w.Platform,
			Status:        string(w.Status),
			StartedAt:     w.StartedAt,
			LastHeartbeat: w.LastHeartbeat,
			JobsProcessed: w.JobsProcessed,
			CurrentJobID:  w.CurrentJobID,
			ProcessID:     w.ProcessID,
			Primary:       i == primaryIdx,
			Uptime:        now.Sub(w.StartedAt).Truncate(time.Second).String(),
		})
	}
	return view, nil
}
