package market

import "time"

// DefaultFallbackWindow is used by WindowPolicy when no fallback is configured.
const DefaultFallbackWindow = 24 * time.Hour

// WindowPolicy derives lookback ranges for "recent N candles" requests.
//
// A window whose period is not one of the five known units yields
// [now-Fallback, now] instead of an error. Recent reports when that happened
// so callers can log it.
type WindowPolicy struct {
	Fallback time.Duration
}

// Recent returns [now - compression*limit*unit, now].
func (p WindowPolicy) Recent(now time.Time, w Window, limit int) (TimeRange, bool) {
	n := w.Compression * limit
	var start time.Time
	switch w.Period {
	case PeriodMinute:
		start = now.Add(-time.Duration(n) * time.Minute)
	case PeriodHour:
		start = now.Add(-time.Duration(n) * time.Hour)
	case PeriodDay:
		start = now.AddDate(0, 0, -n)
	case PeriodWeek:
		start = now.AddDate(0, 0, -7*n)
	case PeriodMonth:
		start = now.AddDate(0, -n, 0)
	default:
		fb := p.Fallback
		if fb <= 0 {
			fb = DefaultFallbackWindow
		}
		return TimeRange{Start: now.Add(-fb), End: now}, true
	}
	return TimeRange{Start: start, End: now}, false
}
