package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	secondParser   = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// ResolveInterval turns a configured rest period into a concrete duration
// measured from now. If cronExpr is empty, fixed is returned unchanged,
// giving a plain countdown. Otherwise cronExpr (a 5-field standard cron
// expression, or 6-field with a leading seconds field) is resolved to its
// next occurrence after now, letting a deployment rest on a calendar
// cadence ("every weekday at 02:00") instead of a fixed countdown.
func ResolveInterval(fixed time.Duration, cronExpr string, now time.Time) (time.Duration, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	if cronExpr == "" {
		return fixed, nil
	}
	sched, err := parseCronExpr(cronExpr)
	if err != nil {
		return 0, fmt.Errorf("scheduler: parsing cron expression %q: %w", cronExpr, err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return 0, fmt.Errorf("scheduler: cron expression %q has no future occurrence", cronExpr)
	}
	return next.Sub(now), nil
}

func parseCronExpr(expr string) (cron.Schedule, error) {
	switch len(strings.Fields(expr)) {
	case 5:
		return standardParser.Parse(expr)
	case 6:
		return secondParser.Parse(expr)
	default:
		return nil, fmt.Errorf("expected 5 or 6 whitespace-separated fields, got %d", len(strings.Fields(expr)))
	}
}
