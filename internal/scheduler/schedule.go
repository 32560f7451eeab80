// Package scheduler implements the Scheduler (§4.6): cron- and
// interval-driven jobs with retry, a hard per-run timeout, and execution
// history, grounded on nexus's internal/cron.
package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conclave-run/conclave/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// intervalShorthand matches the spec's grammar extension over a bare cron
// expression: "30s", "5m", "2h" (§6's cron grammar).
var intervalShorthand = regexp.MustCompile(`^(\d+)(s|m|h)$`)

// Schedule is a parsed job.Schedule value, either a standard cron
// expression or an interval shorthand.
type Schedule struct {
	raw      string
	every    time.Duration
	cronExpr cron.Schedule
	timezone string
}

// ParseSchedule parses a schedule string per §6: a five/six-field cron
// expression, or the "Ns"/"Nm"/"Nh" interval shorthand.
func ParseSchedule(expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, domain.NewSchedulerError(domain.SchedulerInvalidSchedule, "", fmt.Errorf("schedule is required"))
	}

	if m := intervalShorthand.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Schedule{}, domain.NewSchedulerError(domain.SchedulerInvalidSchedule, "", fmt.Errorf("invalid interval %q", expr))
		}
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		}
		return Schedule{raw: expr, every: time.Duration(n) * unit, timezone: timezone}, nil
	}

	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, domain.NewSchedulerError(domain.SchedulerInvalidSchedule, "", fmt.Errorf("invalid cron expression %q: %w", expr, err))
	}
	return Schedule{raw: expr, cronExpr: parsed, timezone: timezone}, nil
}

// Next returns the next fire time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.every > 0 {
		return now.Add(s.every)
	}
	loc := now.Location()
	if s.timezone != "" {
		if tz, err := time.LoadLocation(s.timezone); err == nil {
			loc = tz
		}
	}
	return s.cronExpr.Next(now.In(loc))
}

func (s Schedule) String() string { return s.raw }
