package market

import (
	"fmt"
	"strings"
	"time"

	"OhlcvAPI/pkg/util"
)

// TimeRange is a half-open query interval with Start strictly before End.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration { return r.End.Sub(r.Start) }

// NewTimeRange validates end > start. No clamping is applied.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !end.After(start) {
		return TimeRange{}, fmt.Errorf("%w: end_time %s must be after start_time %s",
			ErrInvalidTimeRange, util.FormatISO(end), util.FormatISO(start))
	}
	return TimeRange{Start: start, End: end}, nil
}

// ParseInstant parses a timezone-aware timestamp.
// Accepted: RFC3339 with an offset or Z, and unix seconds. Timestamps
// without an offset are rejected rather than assumed to be UTC.
func ParseInstant(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalidTimeRange, field)
	}
	if t, ok := util.ParseTime(s); ok {
		return t, nil
	}
	if util.IsNaiveTime(s) {
		return time.Time{}, fmt.Errorf("%w: %s %q has no timezone offset", ErrInvalidTimeRange, field, s)
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not an ISO-8601 timestamp", ErrInvalidTimeRange, field, s)
}

// ParseRange parses and validates a start/end pair.
func ParseRange(start, end string) (TimeRange, error) {
	from, err := ParseInstant("start_time", start)
	if err != nil {
		return TimeRange{}, err
	}
	to, err := ParseInstant("end_time", end)
	if err != nil {
		return TimeRange{}, err
	}
	return NewTimeRange(from, to)
}
