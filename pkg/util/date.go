package util

import (
	"strconv"
	"strings"
	"time"
)

// ISOLayout renders an explicit numeric offset, "+00:00" for UTC.
const ISOLayout = "2006-01-02T15:04:05.999999-07:00"

var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses timezone-aware RFC3339 variants and unix seconds.
// Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// "+" in an unescaped query string arrives as a space.
	if i := strings.LastIndexByte(s, ' '); i > 10 {
		repaired := s[:i] + "+" + s[i+1:]
		for _, layout := range awareLayouts {
			if t, err := time.Parse(layout, repaired); err == nil {
				return t, true
			}
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// IsNaiveTime reports whether s is a well-formed timestamp without any offset.
func IsNaiveTime(s string) bool {
	for _, layout := range naiveLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// FormatISO formats t in UTC with an explicit offset.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}
