package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate is a request budget per window.
type Rate struct {
	Limit  int64
	Window time.Duration
}

// ParseRate parses "N per second|minute|hour" (also "N/minute"). An empty
// string yields a zero Rate, meaning unlimited.
func ParseRate(s string) (Rate, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Rate{}, nil
	}
	var count, unit string
	if before, after, ok := strings.Cut(s, "/"); ok {
		count, unit = before, after
	} else {
		fields := strings.Fields(s)
		if len(fields) != 3 || fields[1] != "per" {
			return Rate{}, fmt.Errorf("invalid rate %q: want \"N per second|minute|hour\"", s)
		}
		count, unit = fields[0], fields[2]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(count), 10, 64)
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}

	var window time.Duration
	switch strings.TrimSuffix(strings.TrimSpace(unit), "s") {
	case "second", "sec":
		window = time.Second
	case "minute", "min":
		window = time.Minute
	case "hour":
		window = time.Hour
	case "day":
		window = 24 * time.Hour
	default:
		return Rate{}, fmt.Errorf("invalid rate %q: unknown unit %q", s, unit)
	}
	return Rate{Limit: n, Window: window}, nil
}

// Unlimited reports whether r imposes no limit.
func (r Rate) Unlimited() bool { return r.Limit <= 0 || r.Window <= 0 }

func (r Rate) String() string {
	if r.Unlimited() {
		return "unlimited"
	}
	switch r.Window {
	case time.Second:
		return fmt.Sprintf("%d per second", r.Limit)
	case time.Minute:
		return fmt.Sprintf("%d per minute", r.Limit)
	case time.Hour:
		return fmt.Sprintf("%d per hour", r.Limit)
	default:
		return fmt.Sprintf("%d per %s", r.Limit, r.Window)
	}
}
