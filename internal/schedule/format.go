package schedule

import (
	"fmt"

	"github.com/tkwok/triggerd/internal/domain"
)

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// FormatRecurrence renders a job's schedule for the dashboard, with
// calendar kinds presented in the display timezone.
func (c *Converter) FormatRecurrence(job *domain.ScheduledJob) string {
	switch job.ScheduleType {
	case domain.ScheduleManual:
		return "Manual"
	case domain.ScheduleInterval, "":
		return "Every " + FormatInterval(job.IntervalSeconds)
	}

	hhmm := "00:00"
	if job.ScheduleTime != nil && *job.ScheduleTime != "" {
		hhmm = *job.ScheduleTime
	}

	displayTime, displayDay, err := c.ToDisplay(job.ScheduleType, hhmm, job.ScheduleDay)
	if err != nil {
		return string(job.ScheduleType)
	}

	switch job.ScheduleType {
	case domain.ScheduleHourly:
		_, m, perr := ParseHHMM(hhmm)
		if perr != nil {
			m = 0
		}
		return fmt.Sprintf("Hourly at :%02d", m)
	case domain.ScheduleDaily:
		return fmt.Sprintf("Daily at %s (%s)", displayTime, c.Abbrev())
	case domain.ScheduleWeekly:
		d := 0
		if displayDay != nil {
			d = *displayDay
		}
		return fmt.Sprintf("Weekly on %s at %s (%s)", weekdayNames[d%7], displayTime, c.Abbrev())
	case domain.ScheduleMonthly:
		d := 1
		if displayDay != nil {
			d = *displayDay
		}
		return fmt.Sprintf("Monthly on day %d at %s (%s)", d, displayTime, c.Abbrev())
	}
	return string(job.ScheduleType)
}

// FormatInterval folds seconds into the largest unit that divides evenly,
// matching the dashboard's "Run every" picker.
func FormatInterval(seconds int) string {
	val, unit := seconds, "Second"
	switch {
	case seconds >= 86400 && seconds%86400 == 0:
		val, unit = seconds/86400, "Day"
	case seconds >= 3600 && seconds%3600 == 0:
		val, unit = seconds/3600, "Hour"
	case seconds >= 60 && seconds%60 == 0:
		val, unit = seconds/60, "Minute"
	}
	if val == 1 {
		return fmt.Sprintf("%d %s", val, unit)
	}
	return fmt.Sprintf("%d %ss", val, unit)
}
