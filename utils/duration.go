package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Grant lifetimes accept a short form (30s, 15m, 2h, 7d), a long form
// (30 minutes, 2 hours), an absolute RFC 3339 timestamp, or the literal
// "never".
var (
	shortForm = regexp.MustCompile(`^(\d+)([smhd])$`)
	longForm  = regexp.MustCompile(`(?i)^(\d+)\s*(second|minute|hour|day|week|month)s?$`)
)

// ParseLifetime resolves an expiry expression to an absolute instant, or nil
// for "never"/empty. Absolute timestamps must lie in the future relative to
// now.
func ParseLifetime(expr string, now time.Time) (*time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "never") {
		return nil, nil
	}

	// Absolute timestamps carry a 'T' separator, durations never do.
	if strings.Contains(expr, "T") {
		at, err := time.Parse(time.RFC3339, expr)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry timestamp %q: %w", expr, err)
		}
		if !at.After(now) {
			return nil, fmt.Errorf("expiry timestamp %q is in the past", expr)
		}
		return &at, nil
	}

	d, err := ParseDuration(expr)
	if err != nil {
		return nil, err
	}
	at := now.Add(d)
	return &at, nil
}

// ParseDuration parses the duration mini-language. A month is approximated as
// 30 days.
func ParseDuration(expr string) (time.Duration, error) {
	var value int64
	var unit string

	if m := shortForm.FindStringSubmatch(expr); m != nil {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", expr, err)
		}
		value, unit = v, m[2]
	} else if m := longForm.FindStringSubmatch(expr); m != nil {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", expr, err)
		}
		value, unit = v, strings.ToLower(m[2])
	} else {
		return 0, fmt.Errorf("invalid duration %q", expr)
	}

	if value <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", expr)
	}

	switch unit {
	case "s", "second":
		return time.Duration(value) * time.Second, nil
	case "m", "minute":
		return time.Duration(value) * time.Minute, nil
	case "h", "hour":
		return time.Duration(value) * time.Hour, nil
	case "d", "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case "month":
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid duration unit in %q", expr)
}

// FormatDuration renders a duration for display, using the largest whole
// unit.
func FormatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	weeks := days / 7
	months := days / 30

	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	switch {
	case months > 0:
		return plural(months, "month")
	case weeks > 0:
		return plural(weeks, "week")
	case days > 0:
		return plural(days, "day")
	case hours > 0:
		return plural(hours, "hour")
	case minutes > 0:
		return plural(minutes, "minute")
	default:
		return plural(seconds, "second")
	}
}
