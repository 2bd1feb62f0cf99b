package domain_test

import (
	"testing"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
)

func validTrigger() domain.Trigger {
	return domain.Trigger{
		ID:    "trig_owner1.01H0000000000000000000000",
		Owner: "owner1",
		Name:  "nightly-sync",
		Action: domain.WebhookAction{
			URL:      "https://example.com/hook",
			Method:   domain.MethodPOST,
			TimeoutS: 29,
		},
		Schedule: domain.Schedule{
			Kind: domain.ScheduleRecurring,
			Recurring: domain.Recurring{
				Cron:     "0 0 3 * * * *",
				Timezone: "UTC",
			},
		},
		Status: domain.TriggerScheduled,
	}
}

func TestTrigger_Validate_AcceptsValidTrigger(t *testing.T) {
	tr := validTrigger()
	if err := tr.Validate(); err != nil {
		t.Fatalf("expected valid trigger, got %v", err)
	}
}

func TestTrigger_Validate_RejectsEmptyName(t *testing.T) {
	tr := validTrigger()
	tr.Name = "  "
	err := tr.Validate()
	if errs.KindOf(err) != errs.KindValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWebhookAction_Validate_RejectsUnsafeScheme(t *testing.T) {
	tr := validTrigger()
	tr.Action.URL = "ftp://example.com/hook"
	err := tr.Validate()
	if errs.KindOf(err) != errs.KindValidationFailed {
		t.Fatalf("expected validation error for unsafe scheme, got %v", err)
	}
}

func TestWebhookAction_Validate_RejectsTimeoutOutOfRange(t *testing.T) {
	for _, timeout := range []int{0, 30, 31} {
		tr := validTrigger()
		tr.Action.TimeoutS = timeout
		if err := tr.Validate(); errs.KindOf(err) != errs.KindValidationFailed {
			t.Fatalf("expected validation error for timeout_s=%d (must be in [1, 30)), got %v", timeout, err)
		}
	}
}

func TestSchedule_Validate_RejectsWrongCronFieldCount(t *testing.T) {
	tr := validTrigger()
	tr.Schedule.Recurring.Cron = "0 0 3 * *"
	err := tr.Validate()
	if errs.KindOf(err) != errs.KindValidationFailed {
		t.Fatalf("expected validation error for cron field count, got %v", err)
	}
}

func TestSchedule_Validate_RejectsEmptyRunAt(t *testing.T) {
	tr := validTrigger()
	tr.Schedule = domain.Schedule{Kind: domain.ScheduleRunAt}
	err := tr.Validate()
	if errs.KindOf(err) != errs.KindValidationFailed {
		t.Fatalf("expected validation error for empty run_at, got %v", err)
	}
}

func TestTrigger_CanTransitionTo_CancelledIsTerminal(t *testing.T) {
	tr := validTrigger()
	tr.Status = domain.TriggerCancelled
	if tr.CanTransitionTo(domain.TriggerScheduled) {
		t.Fatalf("cancelled trigger must never transition out")
	}
}

func TestTrigger_CanTransitionTo_PauseAndResume(t *testing.T) {
	tr := validTrigger()
	if !tr.CanTransitionTo(domain.TriggerPaused) {
		t.Fatalf("scheduled trigger should be pausable")
	}
	tr.Status = domain.TriggerPaused
	if !tr.CanTransitionTo(domain.TriggerScheduled) {
		t.Fatalf("paused trigger should be resumable")
	}
}

func TestSchedule_RunAt_NextAfterAndAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := domain.Schedule{
		Kind: domain.ScheduleRunAt,
		RunAt: domain.RunAt{
			Timepoints: []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)},
		},
	}

	next, ok := sched.NextAfter(base.Add(-time.Minute))
	if !ok || !next.Equal(base) {
		t.Fatalf("expected first timepoint, got %v ok=%v", next, ok)
	}

	sched.Advance(base)
	if sched.RunAt.Cursor != 1 {
		t.Fatalf("expected cursor 1 after advancing past first timepoint, got %d", sched.RunAt.Cursor)
	}

	if sched.IsExhausted(base) {
		t.Fatalf("schedule with remaining timepoints should not be exhausted")
	}
	sched.Advance(base.Add(2 * time.Hour))
	if !sched.IsExhausted(base) {
		t.Fatalf("schedule should be exhausted after consuming all timepoints")
	}
}

func TestNormalizeRunAt_DropsPastByDefault(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	points := []time.Time{
		now.Add(-time.Hour),
		now.Add(time.Hour),
		now.Add(time.Hour), // duplicate, must collapse
	}

	out := domain.NormalizeRunAt(points, now, false)
	if len(out) != 1 || !out[0].Equal(now.Add(time.Hour)) {
		t.Fatalf("expected only the future timepoint to survive, got %v", out)
	}
}

func TestNormalizeRunAt_FastForwardCollapsesPastIntoNow(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	points := []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Hour), now.Add(time.Hour)}

	out := domain.NormalizeRunAt(points, now, true)
	if len(out) != 2 || !out[0].Equal(now) || !out[1].Equal(now.Add(time.Hour)) {
		t.Fatalf("expected past timepoints collapsed into now, got %v", out)
	}
}

func TestRetryPolicy_Validate_RejectsTooManyAttempts(t *testing.T) {
	p := domain.RetryPolicy{Kind: domain.RetrySimple, MaxNumAttempts: 999, DelayS: 1}
	if err := p.Validate(); errs.KindOf(err) != errs.KindValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAttemptOutcome_Retryable(t *testing.T) {
	if !domain.OutcomeBlockedPrivateIP.Retryable() {
		t.Fatalf("blocked_private_ip must be retryable per spec.md §7")
	}
	if !domain.OutcomeTimeout.Retryable() {
		t.Fatalf("timeout should be retryable")
	}
	if domain.OutcomeSuccess.Retryable() {
		t.Fatalf("success must never be retryable")
	}
}
