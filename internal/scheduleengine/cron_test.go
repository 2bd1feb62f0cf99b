package scheduleengine_test

import (
	"testing"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/scheduleengine"
)

func TestNextAfter_DailyAtThreeAM(t *testing.T) {
	r := domain.Recurring{Cron: "0 0 3 * * * *", Timezone: "UTC"}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok, err := scheduleengine.NextAfter(r, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a match")
	}
	want := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

// TestNextAfter_EveryTwoMinutes_MatchesSpecScenarioS1 pins the literal
// scenario from spec.md S1: a trigger firing every 2 minutes, evaluated at
// 2024-01-01T00:00:10Z, must next fire at 2024-01-01T00:02:00Z.
func TestNextAfter_EveryTwoMinutes_MatchesSpecScenarioS1(t *testing.T) {
	r := domain.Recurring{Cron: "0 */2 * * * * *", Timezone: "Etc/UTC"}
	from := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)

	next, ok, err := scheduleengine.NextAfter(r, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a match")
	}
	want := time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestNextAfter_RejectsWrongFieldCount(t *testing.T) {
	r := domain.Recurring{Cron: "0 0 3 * * *", Timezone: "UTC"}
	_, _, err := scheduleengine.NextAfter(r, time.Now())
	if err == nil {
		t.Fatalf("expected error for 6-field cron expression")
	}
}

func TestNextAfter_YearFieldRestrictsMatches(t *testing.T) {
	r := domain.Recurring{Cron: "0 0 0 1 1 * 2030", Timezone: "UTC"}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok, err := scheduleengine.NextAfter(r, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || next.Year() != 2030 {
		t.Fatalf("expected a 2030 match, got %v ok=%v", next, ok)
	}
}

func TestNextAfter_RespectsEndAt(t *testing.T) {
	endAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	r := domain.Recurring{Cron: "0 0 3 * * * *", Timezone: "UTC", EndAt: &endAt}
	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	_, ok, err := scheduleengine.NextAfter(r, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no match past end_at")
	}
}

func TestNextAfter_InvalidTimezone(t *testing.T) {
	r := domain.Recurring{Cron: "0 0 3 * * * *", Timezone: "Nowhere/Imaginary"}
	_, _, err := scheduleengine.NextAfter(r, time.Now())
	if err == nil {
		t.Fatalf("expected error for invalid timezone")
	}
}

func TestNext_RunAtDelegatesToDomain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := domain.Schedule{
		Kind: domain.ScheduleRunAt,
		RunAt: domain.RunAt{
			Timepoints: []time.Time{base.Add(time.Hour)},
		},
	}

	next, ok, err := scheduleengine.Next(s, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !next.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected %v, got %v ok=%v", base.Add(time.Hour), next, ok)
	}
}

func TestInstallPreview_ReturnsRequestedCount(t *testing.T) {
	s := domain.Schedule{
		Kind:      domain.ScheduleRecurring,
		Recurring: domain.Recurring{Cron: "0 0 3 * * * *", Timezone: "UTC"},
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	preview, err := scheduleengine.InstallPreview(s, from, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(preview) != 3 {
		t.Fatalf("expected 3 previewed runs, got %d", len(preview))
	}
	for i := 1; i < len(preview); i++ {
		if !preview[i].After(preview[i-1]) {
			t.Fatalf("preview entries must be strictly increasing: %v", preview)
		}
	}
}

func TestInstallPreview_StopsWhenExhausted(t *testing.T) {
	limit := 2
	s := domain.Schedule{
		Kind: domain.ScheduleRecurring,
		Recurring: domain.Recurring{
			Cron: "0 0 3 * * * *", Timezone: "UTC", LimitRemaining: &limit,
		},
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	preview, err := scheduleengine.InstallPreview(s, from, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(preview) != limit {
		t.Fatalf("expected preview capped at limit %d, got %d", limit, len(preview))
	}
}
