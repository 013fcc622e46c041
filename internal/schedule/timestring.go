package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Service times are extended "HH:MM:SS" strings where the hour may exceed 23.
// A trip at "25:30:00" runs at 01:30 the next calendar day but still belongs
// to the previous day's service. Internally everything is total seconds since
// the service day's local midnight; strings exist only at the edges.

const (
	// RolloverHour is the local hour before which a wall-clock instant counts
	// toward the previous service date. OC Transpo's last trips end around
	// 27:00, well before the first morning departures.
	RolloverHour = 3

	secondsPerDay = 24 * 60 * 60
)

// TimeStringToSeconds converts an extended "HH:MM:SS" string to seconds since
// the service day's local midnight. Missing or malformed fields parse as zero.
func TimeStringToSeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	h, _ := strconv.Atoi(parts[0])
	m, sec := 0, 0
	if len(parts) > 1 {
		m, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}

// SecondsToTimeString renders seconds since local midnight as "HH:MM:SS".
// Hours keep counting past 23 for post-midnight service ("27:00:00").
func SecondsToTimeString(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}

// AddToTimeString returns the service time advanced by the given number of
// seconds.
func AddToTimeString(s string, seconds int) string {
	return SecondsToTimeString(TimeStringToSeconds(s) + seconds)
}

// TimeStringDiff returns a minus b, in seconds.
func TimeStringDiff(a, b string) int {
	return TimeStringToSeconds(a) - TimeStringToSeconds(b)
}

// ToTimeString converts a wall-clock instant to a service-time string.
// With extended=true, instants before the rollover hour are rendered past
// "24:00:00" so they compare correctly against a block's schedule: 01:30
// becomes "25:30:00" on the previous service date.
func ToTimeString(t time.Time, extended bool) string {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if extended && t.Hour() < RolloverHour {
		sec += secondsPerDay
	}
	return SecondsToTimeString(sec)
}
