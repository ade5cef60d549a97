package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// ParseSchedule normalizes a schedule string into a cron spec.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "@hourly", "@every 5m"
//   - Interval duration: "60s", "5m"
//
// The prefix "cron:" forces cron parsing; "every:" forces interval parsing.
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
		return expr, nil
	case strings.HasPrefix(low, "every:"):
		return everySpec(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return s, nil
	default:
		return everySpec(s)
	}
}

// Every returns the "@every" spec for d.
func Every(d time.Duration) string { return "@every " + d.String() }

func everySpec(v string) (string, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *' or duration like '5m')", v)
	}
	if d <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}
