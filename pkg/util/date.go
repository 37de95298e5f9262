package util

import (
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// ParseTime accepts RFC3339, RFC3339Nano, a bare date (YYYY-MM-DD, UTC)
// and unix milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// ParseRange parses optional from/to bounds. An unparsable non-empty bound
// is reported so the caller can reject the request.
func ParseRange(from, to string) (time.Time, time.Time, bool) {
	var f, t time.Time
	if from != "" {
		var ok bool
		if f, ok = ParseTime(from); !ok {
			return time.Time{}, time.Time{}, false
		}
	}
	if to != "" {
		var ok bool
		if t, ok = ParseTime(to); !ok {
			return time.Time{}, time.Time{}, false
		}
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return time.Time{}, time.Time{}, false
	}
	return f, t, true
}
