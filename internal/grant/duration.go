package grant

import (
	"strconv"
	"strings"
	"time"
)

// DurationParser turns command input like "10m" or "2h" into a duration.
// It cannot fail: absent, malformed, or non-positive input yields the
// configured default, keeping call sites branch-free.
type DurationParser struct {
	fallback time.Duration
}

// NewDurationParser creates a parser with the given fallback duration,
// returned for any input that does not match the grammar. A non-positive
// fallback is coerced to one hour.
func NewDurationParser(fallback time.Duration) DurationParser {
	if fallback <= 0 {
		fallback = time.Hour
	}
	return DurationParser{fallback: fallback}
}

// Default returns the configured fallback duration.
func (p DurationParser) Default() time.Duration {
	return p.fallback
}

// Parse interprets s as "<digits>" optionally followed by a single unit
// character, "m" for minutes or "h" for hours, case-insensitive, with
// surrounding whitespace tolerated. A bare number, an empty string, or
// anything outside the grammar yields the fallback. Magnitude is unbounded;
// callers impose their own caps if they need one.
func (p DurationParser) Parse(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return p.fallback
	}

	unit := time.Duration(0)
	switch s[len(s)-1] {
	case 'm', 'M':
		unit = time.Minute
		s = s[:len(s)-1]
	case 'h', 'H':
		unit = time.Hour
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 || unit == 0 {
		return p.fallback
	}

	return time.Duration(n) * unit
}
