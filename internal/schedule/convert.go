// Package schedule implements the recurrence arithmetic of the trigger
// portal: conversion between the display timezone and UTC storage, and
// next-run computation for every schedule kind.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

// Conversion anchors. 2024-01-01 is a Monday, so a weekday value d
// (Monday=0..Sunday=6) lands on January 1+d; January has 31 days, so every
// day-of-month value is representable. Both properties make ToStorage and
// ToDisplay exact inverses.
const (
	anchorYear  = 2024
	anchorMonth = time.January
)

// Converter translates schedule_time/schedule_day between the fixed
// display timezone users type times in and the UTC the store holds.
type Converter struct {
	loc *time.Location
}

func NewConverter(tzName string) (*Converter, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load display timezone %q: %w", tzName, err)
	}
	return &Converter{loc: loc}, nil
}

// Location exposes the display zone for formatting.
func (c *Converter) Location() *time.Location { return c.loc }

// Abbrev returns the display zone's abbreviation, e.g. "HKT".
func (c *Converter) Abbrev() string {
	return time.Date(anchorYear, anchorMonth, 1, 12, 0, 0, 0, c.loc).Format("MST")
}

// ToStorage converts a wall-clock HH:MM (and weekday/day-of-month for
// weekly/monthly) entered in the display zone into its UTC equivalent.
// Interval, hourly and manual kinds are the identity: their times are not
// calendar-anchored. Empty time strings pass through unchanged.
func (c *Converter) ToStorage(kind domain.ScheduleType, hhmm string, day *int) (string, *int, error) {
	return convert(kind, hhmm, day, c.loc, time.UTC)
}

// ToDisplay is the exact inverse of ToStorage.
func (c *Converter) ToDisplay(kind domain.ScheduleType, hhmm string, day *int) (string, *int, error) {
	return convert(kind, hhmm, day, time.UTC, c.loc)
}

func convert(kind domain.ScheduleType, hhmm string, day *int, from, to *time.Location) (string, *int, error) {
	if hhmm == "" {
		return hhmm, day, nil
	}

	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return "", nil, err
	}

	var anchorDay int
	switch kind {
	case domain.ScheduleDaily:
		anchorDay = 1
	case domain.ScheduleWeekly:
		d := 0
		if day != nil {
			d = *day
		}
		if d < 0 || d > 6 {
			return "", nil, fmt.Errorf("%w: weekday %d out of range", domain.ErrInvalidSchedule, d)
		}
		anchorDay = 1 + d
	case domain.ScheduleMonthly:
		d := 1
		if day != nil {
			d = *day
		}
		if d < 1 || d > 31 {
			return "", nil, fmt.Errorf("%w: day-of-month %d out of range", domain.ErrInvalidSchedule, d)
		}
		anchorDay = d
	default:
		// interval, hourly, manual: nothing calendar-anchored to shift
		return hhmm, day, nil
	}

	src := time.Date(anchorYear, anchorMonth, anchorDay, h, m, 0, 0, from)
	dst := src.In(to)

	out := fmt.Sprintf("%02d:%02d", dst.Hour(), dst.Minute())
	switch kind {
	case domain.ScheduleWeekly:
		d := mondayWeekday(dst)
		return out, &d, nil
	case domain.ScheduleMonthly:
		d := dst.Day()
		return out, &d, nil
	default:
		return out, day, nil
	}
}

// ParseHHMM parses a strict 24-hour "HH:MM" string.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", domain.ErrInvalidSchedule, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", domain.ErrInvalidSchedule, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", domain.ErrInvalidSchedule, s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %q out of range", domain.ErrInvalidSchedule, s)
	}
	return hour, minute, nil
}

// mondayWeekday maps Go's Sunday-first weekday to the stored
// Monday=0..Sunday=6 convention.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
