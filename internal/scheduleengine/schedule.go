package scheduleengine

import (
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
)

// Next computes the next firing instant for any schedule kind strictly
// after 'after'. For run_at schedules this delegates to domain.Schedule's
// own cursor walk; for recurring schedules it uses the cron engine above.
// This is the single entry point the spinner and registry call — they
// never need to know which schedule kind they're holding.
func Next(s domain.Schedule, after time.Time) (time.Time, bool, error) {
	if s.IsExhausted(after) {
		return time.Time{}, false, nil
	}
	switch s.Kind {
	case domain.ScheduleRunAt:
		t, ok := s.NextAfter(after)
		return t, ok, nil
	case domain.ScheduleRecurring:
		return NextAfter(s.Recurring, after)
	default:
		return time.Time{}, false, nil
	}
}

// InstallPreview returns up to n upcoming firing instants without mutating
// s — the canonical install()/update() response field estimated_future_runs
// (spec.md §4.3).
func InstallPreview(s domain.Schedule, after time.Time, n int) ([]time.Time, error) {
	clone := s.Clone()
	out := make([]time.Time, 0, n)
	cursor := after
	for i := 0; i < n; i++ {
		next, ok, err := Next(clone, cursor)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, next)
		clone.Advance(next)
		cursor = next
	}
	return out, nil
}
