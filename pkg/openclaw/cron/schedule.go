// schedule.go computes next-run instants for the three schedule kinds.
package cron

import (
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// exprParser accepts standard 5-field cron expressions plus descriptors
// like @daily.
var exprParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// NextRunAt computes the next firing instant (unix ms) for a schedule.
//   - at: the fixed instant.
//   - every: one interval past the last run, or past now when never run.
//   - cron: the next matching instant per the expression and timezone.
//
// Returns 0 with an error for unparseable expressions or unknown kinds.
func NextRunAt(s Schedule, lastRunMs, nowMs int64) (int64, error) {
	switch s.Kind {
	case KindAt:
		return s.AtMs, nil

	case KindEvery:
		interval, err := everyInterval(s)
		if err != nil {
			return 0, err
		}
		base := lastRunMs
		if base <= 0 {
			base = nowMs
		}
		return base + interval.Milliseconds(), nil

	case KindCron:
		sched, err := exprParser.Parse(s.Expr)
		if err != nil {
			return 0, fmt.Errorf("parse cron expr %q: %w", s.Expr, err)
		}
		loc := time.Local
		if s.TZ != "" {
			l, err := time.LoadLocation(s.TZ)
			if err != nil {
				return 0, fmt.Errorf("load timezone %q: %w", s.TZ, err)
			}
			loc = l
		}
		next := sched.Next(time.UnixMilli(nowMs).In(loc))
		if next.IsZero() {
			return 0, nil
		}
		return next.UnixMilli(), nil
	}

	return 0, fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// everyInterval converts an every-schedule's amount/unit to a duration.
func everyInterval(s Schedule) (time.Duration, error) {
	if s.Every <= 0 {
		return 0, fmt.Errorf("non-positive interval %d", s.Every)
	}
	var unit time.Duration
	switch s.Unit {
	case "", "ms":
		unit = time.Millisecond
	case "s", "sec", "seconds":
		unit = time.Second
	case "m", "min", "minutes":
		unit = time.Minute
	case "h", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown interval unit %q", s.Unit)
	}
	return time.Duration(s.Every) * unit, nil
}
