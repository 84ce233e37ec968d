package domain

import "time"

type ExecutionStatus string

const (
	ExecSuccess ExecutionStatus = "SUCCESS"
	ExecFailure ExecutionStatus = "FAILURE"
	ExecError   ExecutionStatus = "ERROR"
	ExecTimeout ExecutionStatus = "TIMEOUT"
	ExecRunning ExecutionStatus = "RUNNING"
)

// JobExecutionLog is the append-only history shown in the dashboard.
// Exactly one row exists per terminal dispatch; run_time equals the
// dispatch's claimed_at when known.
type JobExecutionLog struct {
	ID        int64
	JobID     int64
	RunTime   time.Time
	Status    ExecutionStatus
	LogOutput string
}
