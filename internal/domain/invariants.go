package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cronback-oss/cronback/internal/errs"
)

// Validate checks a Trigger against the structural invariants spec.md §3
// lists as I1-I8. It does not touch storage or the network; precondition
// checks that need prior state (reference_id idempotency-key collisions)
// live in the store layer instead.
func (t *Trigger) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errs.New(errs.KindValidationFailed, "trigger name must not be empty") // I1
	}
	if len(t.Name) > 256 {
		return errs.New(errs.KindValidationFailed, "trigger name exceeds 256 characters") // I1
	}
	if t.Owner == "" {
		return errs.New(errs.KindValidationFailed, "trigger owner must not be empty")
	}
	if err := t.Action.Validate(); err != nil {
		return err
	}
	if err := t.Schedule.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks a WebhookAction's URL, method, and timeout. Only
// http/https schemes are installable at all — the SSRF gate itself runs at
// dispatch time since DNS can change between install and fire.
func (a *WebhookAction) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" {
		return errs.New(errs.KindValidationFailed, fmt.Sprintf("invalid action url %q", a.URL))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errs.New(errs.KindValidationFailed, fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	switch a.Method {
	case MethodGET, MethodPOST, MethodPUT, MethodPATCH, MethodHEAD, MethodDELETE:
	default:
		return errs.New(errs.KindValidationFailed, fmt.Sprintf("unsupported method %q", a.Method))
	}
	if a.TimeoutS < 1 || a.TimeoutS >= 30 {
		return errs.New(errs.KindValidationFailed, "action timeout_s must be in [1, 30) seconds") // I5
	}
	if a.RetryPolicy != nil {
		if err := a.RetryPolicy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a RetryPolicy's bounds (I6: max_num_attempts >= 1, delay_s
// >= 1, and exponential's max_delay_s >= delay_s).
func (p *RetryPolicy) Validate() error {
	switch p.Kind {
	case RetrySimple, RetryExponential:
	default:
		return errs.New(errs.KindValidationFailed, fmt.Sprintf("unsupported retry policy kind %q", p.Kind))
	}
	if p.MaxNumAttempts < 1 || p.MaxNumAttempts > 32 {
		return errs.New(errs.KindValidationFailed, "retry policy max_num_attempts must be in [1, 32]") // I6
	}
	if p.DelayS < 1 {
		return errs.New(errs.KindValidationFailed, "retry policy delay_s must be >= 1") // I6
	}
	if p.Kind == RetryExponential && p.MaxDelayS < p.DelayS {
		return errs.New(errs.KindValidationFailed, "retry policy max_delay_s must be >= delay_s") // I6
	}
	return nil
}

// Validate checks a Schedule's structural invariants: a recurring schedule's
// cron expression must have exactly 7 whitespace-separated fields, and a
// run_at schedule must carry 1-5000 timepoints (I4).
func (s *Schedule) Validate() error {
	switch s.Kind {
	case ScheduleRecurring:
		fields := strings.Fields(s.Recurring.Cron)
		if len(fields) != 7 {
			return errs.New(errs.KindValidationFailed,
				fmt.Sprintf("cron expression must have 7 fields (sec min hour dom mon dow year), got %d", len(fields)))
		}
		if s.Recurring.Timezone != "" {
			if _, err := time.LoadLocation(s.Recurring.Timezone); err != nil {
				return errs.New(errs.KindValidationFailed, fmt.Sprintf("unknown timezone %q", s.Recurring.Timezone))
			}
		}
		if s.Recurring.StartAt != nil && s.Recurring.EndAt != nil && !s.Recurring.StartAt.Before(*s.Recurring.EndAt) {
			return errs.New(errs.KindValidationFailed, "schedule start_at must be before end_at")
		}
		if s.Recurring.LimitRemaining != nil && *s.Recurring.LimitRemaining < 0 {
			return errs.New(errs.KindValidationFailed, "schedule limit must be >= 0")
		}
	case ScheduleRunAt:
		if len(s.RunAt.Timepoints) == 0 {
			return errs.New(errs.KindValidationFailed, "run_at schedule requires at least one timepoint") // I4
		}
		if len(s.RunAt.Timepoints) > 5000 {
			return errs.New(errs.KindValidationFailed, "run_at schedule supports at most 5000 timepoints") // I4
		}
	default:
		return errs.New(errs.KindValidationFailed, fmt.Sprintf("unknown schedule kind %q", s.Kind))
	}
	return nil
}

// CanTransitionTo reports whether status-changing operations (pause, resume,
// cancel) are legal from the trigger's current status (I8: cancelled is a
// terminal status; no operation may move a trigger out of it).
func (t *Trigger) CanTransitionTo(next TriggerStatus) bool {
	if t.Status.Terminal() {
		return false
	}
	switch next {
	case TriggerPaused:
		return t.Status == TriggerScheduled || t.Status == TriggerOnDemand
	case TriggerScheduled, TriggerOnDemand:
		return t.Status == TriggerPaused
	case TriggerCancelled:
		return true
	default:
		return false
	}
}
