package domain

import "time"

// ScheduleKind discriminates the two schedule variants a trigger may carry
// (spec.md §3: Schedule is Recurring | RunAt).
type ScheduleKind string

const (
	ScheduleRecurring ScheduleKind = "recurring"
	ScheduleRunAt     ScheduleKind = "run_at"
)

// Recurring is a cron-driven schedule: 7 fields (sec min hour dom mon dow
// year) evaluated in an IANA timezone, optionally bounded by [StartAt, EndAt)
// and/or a fixed LimitRemaining count of future runs.
type Recurring struct {
	Cron           string
	Timezone       string
	StartAt        *time.Time
	EndAt          *time.Time
	LimitRemaining *int // nil means unbounded; decremented on every fire
}

// RunAt is an explicit, deduplicated, sorted list of future timepoints.
// Cursor indexes the next not-yet-fired entry.
type RunAt struct {
	Timepoints []time.Time
	Cursor     int
}

// Schedule is the tagged union a Trigger carries. Exactly one of Recurring
// or RunAt is populated, selected by Kind.
type Schedule struct {
	Kind      ScheduleKind
	Recurring Recurring
	RunAt     RunAt
}

// Clone returns a deep copy safe to advance independently of the original —
// used by Trigger.EstimatedFutureRuns to preview without mutating state.
func (s Schedule) Clone() Schedule {
	out := s
	if s.Recurring.StartAt != nil {
		t := *s.Recurring.StartAt
		out.Recurring.StartAt = &t
	}
	if s.Recurring.EndAt != nil {
		t := *s.Recurring.EndAt
		out.Recurring.EndAt = &t
	}
	if s.Recurring.LimitRemaining != nil {
		n := *s.Recurring.LimitRemaining
		out.Recurring.LimitRemaining = &n
	}
	out.RunAt.Timepoints = append([]time.Time(nil), s.RunAt.Timepoints...)
	return out
}

// IsExhausted reports whether the schedule can never fire again (spec.md
// §4.4 is_exhausted): a RunAt schedule past its last timepoint, or a
// Recurring schedule whose LimitRemaining has reached zero or whose EndAt
// has passed.
func (s Schedule) IsExhausted(now time.Time) bool {
	switch s.Kind {
	case ScheduleRunAt:
		return s.RunAt.Cursor >= len(s.RunAt.Timepoints)
	case ScheduleRecurring:
		if s.Recurring.LimitRemaining != nil && *s.Recurring.LimitRemaining <= 0 {
			return true
		}
		if s.Recurring.EndAt != nil && !now.Before(*s.Recurring.EndAt) {
			return true
		}
		return false
	default:
		return true
	}
}

// NextAfter computes the next firing instant strictly after 'after', without
// mutating the schedule. Callers that intend to actually consume the
// timepoint must call Advance. Returns ok=false when exhausted or when the
// underlying cron expression can no longer be matched (spec.md §4.4
// next_after).
//
// The cron evaluation itself is implemented by scheduleengine; Schedule only
// owns RunAt's trivial cursor walk so the domain package stays dependency
// free. Recurring schedules always report ok=false here — callers must use
// scheduleengine.NextAfter, which has access to the cron parser.
func (s Schedule) NextAfter(after time.Time) (time.Time, bool) {
	if s.Kind != ScheduleRunAt {
		return time.Time{}, false
	}
	for i := s.RunAt.Cursor; i < len(s.RunAt.Timepoints); i++ {
		if s.RunAt.Timepoints[i].After(after) {
			return s.RunAt.Timepoints[i], true
		}
	}
	return time.Time{}, false
}

// Advance moves a RunAt schedule's cursor past the given fired timepoint.
// Recurring schedules track progress purely via wall-clock time and
// LimitRemaining, so Advance only decrements the limit counter for them.
func (s *Schedule) Advance(fired time.Time) {
	switch s.Kind {
	case ScheduleRunAt:
		for s.RunAt.Cursor < len(s.RunAt.Timepoints) && !s.RunAt.Timepoints[s.RunAt.Cursor].After(fired) {
			s.RunAt.Cursor++
		}
	case ScheduleRecurring:
		if s.Recurring.LimitRemaining != nil {
			n := *s.Recurring.LimitRemaining - 1
			if n < 0 {
				n = 0
			}
			s.Recurring.LimitRemaining = &n
		}
	}
}

// NormalizeRunAt sorts and de-duplicates timepoints, and optionally drops
// every timepoint at or before 'now' — the default fast-forward policy
// (spec.md §4.4 edge case: "a run_at trigger installed with only past
// timepoints is immediately exhausted unless scheduler.dangerous_fast_forward
// is set, in which case past timepoints collapse into a single immediate
// run").
func NormalizeRunAt(points []time.Time, now time.Time, dangerousFastForward bool) []time.Time {
	if len(points) == 0 {
		return nil
	}
	sorted := append([]time.Time(nil), points...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Before(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	deduped := sorted[:0:0]
	for _, t := range sorted {
		if len(deduped) == 0 || !deduped[len(deduped)-1].Equal(t) {
			deduped = append(deduped, t)
		}
	}

	var past, future []time.Time
	for _, t := range deduped {
		if t.After(now) {
			future = append(future, t)
		} else {
			past = append(past, t)
		}
	}
	if len(past) == 0 {
		return future
	}
	if !dangerousFastForward {
		return future
	}
	// Collapse every past timepoint into one immediate firing, preserved
	// ahead of any still-future entries.
	return append([]time.Time{now}, future...)
}
