package schedule

import "time"

// Day holds the padded wall-clock bounds of one service day. The window
// starts before the day's local midnight and ends after the next one so that
// trips scheduled past "24:00:00" fall inside a single day's bounds.
type Day struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

// DateOnly truncates an instant to its calendar date at local midnight.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ServiceDate returns the calendar date of the service day an instant belongs
// to. Early-morning instants before the rollover hour roll back to the
// previous date: 01:30 is still "yesterday's" late-night service.
func ServiceDate(t time.Time) time.Time {
	if t.Hour() < RolloverHour {
		t = t.AddDate(0, 0, -1)
	}
	return DateOnly(t)
}

// Bounds returns the padded bounds for the service day of the given date.
func Bounds(date time.Time, padding time.Duration) Day {
	d := DateOnly(date)
	return Day{
		Date:  d,
		Start: d.Add(-padding),
		End:   d.AddDate(0, 0, 1).Add(padding),
	}
}

// InstantOn returns the wall-clock instant a service-time string denotes on
// the given service date. Times past "24:00:00" land on the next calendar
// day.
func InstantOn(date time.Time, timeString string) time.Time {
	return DateOnly(date).Add(time.Duration(TimeStringToSeconds(timeString)) * time.Second)
}

// SameDate reports whether two instants fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}
