package domain

import (
	"errors"
	"time"
)

var (
	ErrDispatchNotFound       = errors.New("dispatch not found")
	ErrDispatchAlreadyClaimed = errors.New("dispatch already claimed")
)

type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "PENDING"
	DispatchInProgress DispatchStatus = "IN_PROGRESS"
	DispatchCompleted  DispatchStatus = "COMPLETED"
	DispatchFailed     DispatchStatus = "FAILED"
	DispatchTimeout    DispatchStatus = "TIMEOUT"
)

// Terminal reports whether s admits no further transitions.
func (s DispatchStatus) Terminal() bool {
	switch s {
	case DispatchCompleted, DispatchFailed, DispatchTimeout:
		return true
	}
	return false
}

// ErrorMessageLimit caps the error_message column; full output always goes
// to the execution log untruncated.
const ErrorMessageLimit = 500

// JobDispatch is a single attempt to run a job. The row is the effective
// mutex: the PENDING→IN_PROGRESS transition happens via conditional UPDATE
// and only one worker can win it.
type JobDispatch struct {
	ID           int64
	JobID        int64
	CreatedAt    time.Time
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
	Status       DispatchStatus
	WorkerID     *string
	RetryCount   int
	ErrorMessage *string
}

// TruncateError clips msg to the error_message column limit.
func TruncateError(msg string) string {
	if len(msg) > ErrorMessageLimit {
		return msg[:ErrorMessageLimit]
	}
	return msg
}
