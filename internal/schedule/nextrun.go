package schedule

import (
	"log/slog"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

// NextRun returns the strictly-future UTC instant at which job should next
// fire, or nil for manual jobs. Equality with now counts as past. An
// unparseable schedule_time falls back to 00:00 with a warning, so one bad
// row cannot stall the dispatch pass.
func NextRun(job *domain.ScheduledJob, now time.Time) *time.Time {
	if job.ScheduleType == domain.ScheduleManual {
		return nil
	}
	now = now.UTC()

	if job.ScheduleType == domain.ScheduleInterval || job.ScheduleType == "" {
		t := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
		return &t
	}

	hour, minute := 0, 0
	if job.ScheduleTime != nil && *job.ScheduleTime != "" {
		h, m, err := ParseHHMM(*job.ScheduleTime)
		if err != nil {
			slog.Warn("unparseable schedule_time, defaulting to 00:00",
				"job_id", job.ID, "schedule_time", *job.ScheduleTime, "error", err)
		} else {
			hour, minute = h, m
		}
	}

	var target time.Time
	switch job.ScheduleType {
	case domain.ScheduleHourly:
		target = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, time.UTC)
		if !target.After(now) {
			target = target.Add(time.Hour)
		}

	case domain.ScheduleDaily:
		target = time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}

	case domain.ScheduleWeekly:
		day := 0
		if job.ScheduleDay != nil {
			day = *job.ScheduleDay
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		target = today.AddDate(0, 0, day-mondayWeekday(today))
		if !target.After(now) {
			target = target.AddDate(0, 0, 7)
		}

	case domain.ScheduleMonthly:
		day := 1
		if job.ScheduleDay != nil {
			day = *job.ScheduleDay
		}
		target = monthlyTarget(now.Year(), now.Month(), day, hour, minute)
		if !target.After(now) {
			y, mo := now.Year(), now.Month()+1
			if mo > time.December {
				y, mo = y+1, time.January
			}
			target = monthlyTarget(y, mo, day, hour, minute)
		}

	default:
		t := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
		return &t
	}

	return &target
}

// monthlyTarget builds the day-th of the given month at hour:minute,
// clamping day to the month's last valid day (Feb 31 → Feb 28/29).
func monthlyTarget(year int, month time.Month, day, hour, minute int) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// day 0 of the next month normalises to the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
