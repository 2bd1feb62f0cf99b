// Package scheduleengine computes the next firing instant for a trigger's
// schedule. Recurring schedules are driven by robfig/cron/v3; run_at
// schedules walk an explicit sorted timepoint list (domain.Schedule already
// implements that half directly).
package scheduleengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
)

// maxYearScanAttempts bounds how many cron candidate times we'll walk past
// while looking for one whose year also matches — protects against cron
// expressions that are satisfiable but whose year field can never match
// (e.g. "* * * * * * 2020" evaluated from 2026), which would otherwise spin
// the parser forever.
const maxYearScanAttempts = 10_000

var sixFieldParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextAfter computes the next instant a Recurring schedule fires strictly
// after 'after', in UTC. robfig/cron/v3 has no native year field, so the
// 7th (literal or wildcard) field is matched by re-querying Next() until a
// candidate's year also satisfies it — grounded on the six-field call
// pattern in Dhi13man-event-trigger-platform's CalculateNextFireTime, with
// the year field layered on top for the spec's 7-field cron grammar.
func NextAfter(r domain.Recurring, after time.Time) (time.Time, bool, error) {
	loc, err := resolveTimezone(r.Timezone)
	if err != nil {
		return time.Time{}, false, err
	}

	sixFields, yearField, err := splitYearField(r.Cron)
	if err != nil {
		return time.Time{}, false, err
	}

	sched, err := sixFieldParser.Parse(sixFields)
	if err != nil {
		return time.Time{}, false, errs.Wrap(errs.KindValidationFailed, "invalid cron expression", err)
	}

	cursor := after.In(loc)
	if r.StartAt != nil && r.StartAt.After(cursor) {
		cursor = r.StartAt.In(loc)
	}

	for i := 0; i < maxYearScanAttempts; i++ {
		next := sched.Next(cursor)
		if next.IsZero() {
			return time.Time{}, false, nil
		}
		if r.EndAt != nil && !next.Before(*r.EndAt) {
			return time.Time{}, false, nil
		}
		if yearMatches(yearField, next.Year()) {
			return next.UTC(), true, nil
		}
		cursor = next
	}
	return time.Time{}, false, errs.New(errs.KindValidationFailed, "cron year field never matches within scan window")
}

// splitYearField separates the spec's 7-field grammar (sec min hour dom mon
// dow year) into the 6 fields robfig/cron understands plus the trailing
// year field.
func splitYearField(expr string) (sixFields string, yearField string, err error) {
	fields := strings.Fields(expr)
	if len(fields) != 7 {
		return "", "", errs.New(errs.KindValidationFailed,
			fmt.Sprintf("cron expression must have 7 fields, got %d", len(fields)))
	}
	return strings.Join(fields[:6], " "), fields[6], nil
}

// yearMatches reports whether year satisfies the literal year field: "*",
// a single year, or a comma-separated list of years.
func yearMatches(field string, year int) bool {
	if field == "*" {
		return true
	}
	for _, part := range strings.Split(field, ",") {
		var y int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &y); err == nil && y == year {
			return true
		}
	}
	return false
}

func resolveTimezone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationFailed, fmt.Sprintf("invalid timezone %q", tz), err)
	}
	return loc, nil
}
