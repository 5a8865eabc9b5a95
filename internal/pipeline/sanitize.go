package pipeline

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ratingWords maps the provider's enum rating strings to their numeric value.
var ratingWords = map[string]int{
	"ONE":   1,
	"TWO":   2,
	"THREE": 3,
	"FOUR":  4,
	"FIVE":  5,
}

// ParseRating coerces a provider rating ("FIVE", "4", 4, 4.0) to an int
// clamped to 1..5. Unparseable values fall back to the lower bound with a
// warning.
func ParseRating(v any) (int, []string) {
	switch r := v.(type) {
	case string:
		s := strings.ToUpper(strings.TrimSpace(r))
		if n, ok := ratingWords[s]; ok {
			return n, nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return clampInt(n, 1, 5), warnIfClamped(n, 1, 5, "rating")
		}
		return 1, []string{fmt.Sprintf("unparseable rating %q, defaulting to 1", r)}
	case float64:
		n := int(r)
		return clampInt(n, 1, 5), warnIfClamped(n, 1, 5, "rating")
	case int:
		return clampInt(r, 1, 5), warnIfClamped(r, 1, 5, "rating")
	case int64:
		n := int(r)
		return clampInt(n, 1, 5), warnIfClamped(n, 1, 5, "rating")
	case nil:
		return 1, []string{"missing rating, defaulting to 1"}
	default:
		return 1, []string{fmt.Sprintf("unparseable rating %v (%T), defaulting to 1", v, v)}
	}
}

// ParseCount coerces a provider counter (number or numeric string) to a
// non-negative int64. Unparseable or negative values fall back to zero with
// a warning.
func ParseCount(v any, field string) (int64, []string) {
	switch c := v.(type) {
	case float64:
		return clampCount(int64(c), field)
	case int:
		return clampCount(int64(c), field)
	case int64:
		return clampCount(c, field)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		if err != nil {
			return 0, []string{fmt.Sprintf("unparseable %s %q, defaulting to 0", field, c)}
		}
		return clampCount(n, field)
	case nil:
		return 0, nil
	default:
		return 0, []string{fmt.Sprintf("unparseable %s %v (%T), defaulting to 0", field, v, v)}
	}
}

func clampCount(n int64, field string) (int64, []string) {
	if n < 0 {
		return 0, []string{fmt.Sprintf("negative %s %d clamped to 0", field, n)}
	}
	return n, nil
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func warnIfClamped(n, lo, hi int, field string) []string {
	if n < lo || n > hi {
		return []string{fmt.Sprintf("%s %d out of range, clamped to %d..%d", field, n, lo, hi)}
	}
	return nil
}

// timeLayouts are the timestamp shapes the provider serves, most specific
// first.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime normalizes a provider timestamp to UTC. Unparseable values fall
// back to the zero time with a warning; callers decide whether that is
// acceptable for the field.
func ParseTime(s, field string) (time.Time, []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, []string{fmt.Sprintf("unparseable %s %q", field, s)}
}

// VerifyURL keeps only absolute http(s) URLs; anything else is dropped with
// a warning rather than persisted.
func VerifyURL(s string) (string, []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", []string{fmt.Sprintf("invalid media url %q dropped", s)}
	}
	return u.String(), nil
}

// ValidMonth reports whether s is a YYYY-MM month.
func ValidMonth(s string) bool {
	_, err := time.Parse("2006-01", s)
	return err == nil
}
