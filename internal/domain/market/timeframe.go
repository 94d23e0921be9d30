package market

import (
	"fmt"
	"strings"
	"time"
)

// Period is the aggregation unit understood by the storage query layer.
type Period string

const (
	PeriodMinute Period = "minutes"
	PeriodHour   Period = "hours"
	PeriodDay    Period = "days"
	PeriodWeek   Period = "weeks"
	PeriodMonth  Period = "months"
)

// Window is a (compression, period) pair, e.g. 15 minutes or 1 month.
type Window struct {
	Compression int
	Period      Period
}

func (w Window) String() string {
	return fmt.Sprintf("%d %s", w.Compression, w.Period)
}

// Approx returns the nominal bucket width. Months count as 30 days.
func (w Window) Approx() time.Duration {
	n := time.Duration(w.Compression)
	switch w.Period {
	case PeriodMinute:
		return n * time.Minute
	case PeriodHour:
		return n * time.Hour
	case PeriodDay:
		return n * 24 * time.Hour
	case PeriodWeek:
		return n * 7 * 24 * time.Hour
	case PeriodMonth:
		return n * 30 * 24 * time.Hour
	default:
		return 0
	}
}

// timeframeOrder lists supported tokens in ascending bucket width.
var timeframeOrder = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d",
	"1w",
	"1M",
}

var timeframes = map[string]Window{
	"1m":  {1, PeriodMinute},
	"3m":  {3, PeriodMinute},
	"5m":  {5, PeriodMinute},
	"15m": {15, PeriodMinute},
	"30m": {30, PeriodMinute},
	"1h":  {1, PeriodHour},
	"2h":  {2, PeriodHour},
	"4h":  {4, PeriodHour},
	"6h":  {6, PeriodHour},
	"8h":  {8, PeriodHour},
	"12h": {12, PeriodHour},
	"1d":  {1, PeriodDay},
	"3d":  {3, PeriodDay},
	"1w":  {1, PeriodWeek},
	"1M":  {1, PeriodMonth},
}

// Translate maps a timeframe token to its aggregation window.
// Matching is exact and case-sensitive: "1M" is one month, "1m" one minute.
func Translate(token string) (Window, error) {
	w, ok := timeframes[token]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q (supported: %s)", ErrInvalidTimeframe, token, strings.Join(timeframeOrder, ", "))
	}
	return w, nil
}

// IsValidTimeframe reports whether token is in the supported set.
func IsValidTimeframe(token string) bool {
	_, ok := timeframes[token]
	return ok
}

// SupportedTimeframes returns a copy of the supported tokens.
func SupportedTimeframes() []string {
	out := make([]string, len(timeframeOrder))
	copy(out, timeframeOrder)
	return out
}
