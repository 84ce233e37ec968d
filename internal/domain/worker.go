package domain

import (
	"errors"
	"time"
)

var ErrWorkerNotFound = errors.New("worker not found")

type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "IDLE"
	WorkerBusy    WorkerStatus = "BUSY"
	WorkerOffline WorkerStatus = "OFFLINE"
)

// WorkerRegistration is one row per live worker process. Liveness is
// derived from last_heartbeat, never from the status column alone.
type WorkerRegistration struct {
	WorkerID      string
	Hostname      string
	Platform      string
	StartedAt     time.Time
	LastHeartbeat time.Time
	Status        WorkerStatus
	JobsProcessed int
	CurrentJobID  *int64
	ProcessID     *int
}

// Live reports whether the worker's heartbeat is within the offline
// threshold as of now.
func (w *WorkerRegistration) Live(now time.Time, offlineThreshold time.Duration) bool {
	return now.Sub(w.LastHeartbeat) < offlineThreshold
}
