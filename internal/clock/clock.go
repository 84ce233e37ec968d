// Package clock centralises "now" and the UTC coercion applied to
// timestamps read back from the store.
package clock

import "time"

// UTCNow returns the current time in UTC, truncated to microseconds to
// match the precision the store round-trips.
func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// EnsureUTC coerces a timestamp read from a backend that erases zone
// information. Values that already carry UTC pass through; values scanned
// into the process-local zone are reinterpreted as UTC wall-clock time
// (the store only ever holds UTC); anything else is a genuinely zoned
// value and converts normally.
func EnsureUTC(t time.Time) time.Time {
	switch t.Location() {
	case time.UTC:
		return t
	case time.Local:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	default:
		return t.UTC()
	}
}

// EnsureUTCPtr is EnsureUTC lifted over nullable columns.
func EnsureUTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := EnsureUTC(*t)
	return &u
}
