package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobInactive     = errors.New("job is not active")
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
	ErrScriptNotFound  = errors.New("script not found")
)

type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleHourly   ScheduleType = "hourly"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
	ScheduleManual   ScheduleType = "manual"
)

// Valid reports whether t is one of the recognised schedule kinds.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleInterval, ScheduleHourly, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleManual:
		return true
	}
	return false
}

// ScheduledJob is the user-declared trigger. All timestamps are UTC;
// ScheduleTime and ScheduleDay are stored in UTC and converted to the
// display timezone only at the control-plane boundary.
type ScheduledJob struct {
	ID              int64
	Name            string
	ScriptPath      string
	ScriptArgs      *string
	IntervalSeconds int
	ScheduleType    ScheduleType
	ScheduleTime    *string // "HH:MM", UTC
	ScheduleDay     *int    // weekday 0=Monday..6=Sunday, or day-of-month 1..31
	IsActive        bool

	NextRun           *time.Time // nil for manual jobs not currently queued
	LastDispatchedAt  *time.Time
	DispatchLockUntil *time.Time
}
