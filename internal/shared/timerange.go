package shared

import (
	"fmt"
	"time"
)

// TimeRange identifies a listening-stats window anchored at the current day.
type TimeRange string

const (
	ShortTerm  TimeRange = "short_term"  // Last 28 days
	MediumTerm TimeRange = "medium_term" // Last 180 days
	LongTerm   TimeRange = "long_term"   // Last 365 days
	AllTime    TimeRange = "all_time"    // Unbounded
)

// ParseTimeRange converts a string into a [TimeRange], defaulting to [AllTime] for empty input.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case ShortTerm, MediumTerm, LongTerm, AllTime:
		return TimeRange(s), nil
	case "":
		return AllTime, nil
	default:
		return "", fmt.Errorf("%w: unknown time range %q", ErrInvalidArgument, s)
	}
}

// days returns the lookback window length, or 0 for the unbounded range.
func (r TimeRange) days() int {
	switch r {
	case ShortTerm:
		return 28
	case MediumTerm:
		return 180
	case LongTerm:
		return 365
	default:
		return 0
	}
}

// Bounds returns the inclusive [start, end] instants for the range relative to now.
//
// The end bound is truncated to end-of-day so that day-level comparisons are inclusive.
// For [AllTime] the start is the zero time.
func (r TimeRange) Bounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	y, m, d := now.Date()
	end := time.Date(y, m, d, 23, 59, 59, 0, time.UTC)

	if r.days() == 0 {
		return time.Time{}, end
	}

	start := end.AddDate(0, 0, -r.days()).Add(time.Second)
	return start, end
}
