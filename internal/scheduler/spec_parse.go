package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is the normalized check cadence: either a fixed interval or a
// cron expression.
//
// Supported forms:
//   - Interval duration: "5m", "2h30m"
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "@every 55m"
//
// Optional prefixes "interval:" and "cron:" force one interpretation.
type Schedule struct {
	Every time.Duration // > 0 for intervals
	Cron  cron.Schedule // non-nil for cron specs
	Raw   string
}

// cronParser accepts standard 5-field specs plus descriptors (@hourly,
// @every ...).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a schedule string.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), raw)
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(strings.TrimSpace(s[len("interval:"):]), raw)
	}

	// Whitespace or '@' means cron; otherwise try a Go duration first.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s, raw)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Schedule{Every: d, Raw: raw}, nil
	}

	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use a duration like '5m' or cron like '*/5 * * * *')", raw)
}

func parseCron(expr, raw string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron schedule required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return Schedule{Cron: sched, Raw: raw}, nil
}

func parseEvery(v, raw string) (Schedule, error) {
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Every: d, Raw: raw}, nil
}

// NextDelay returns how long to sleep from now until the next tick.
func (s Schedule) NextDelay(now time.Time) time.Duration {
	if s.Cron != nil {
		d := s.Cron.Next(now).Sub(now)
		if d < 0 {
			d = 0
		}
		return d
	}
	return s.Every
}

// IsZero reports whether the schedule was never parsed.
func (s Schedule) IsZero() bool { return s.Every == 0 && s.Cron == nil }
