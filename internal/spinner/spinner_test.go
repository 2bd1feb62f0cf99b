package spinner_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cronback-oss/cronback/internal/clock"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/spinner"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeRegistry is a narrow point-of-use fake covering only what the spinner
// needs: a fixed snapshot, Get, persisted runs via RecordRun, and recording
// of advanced schedules via AdvanceAfterFire.
type fakeRegistry struct {
	mu        sync.Mutex
	triggers  map[string]domain.Trigger
	persisted []domain.Run
	fired     []string
}

func newFakeRegistry(triggers ...domain.Trigger) *fakeRegistry {
	m := make(map[string]domain.Trigger)
	for _, t := range triggers {
		m[t.ID] = t
	}
	return &fakeRegistry{triggers: m}
}

func (f *fakeRegistry) Snapshot() ([]domain.Trigger, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Trigger, 0, len(f.triggers))
	for _, t := range f.triggers {
		out = append(out, t)
	}
	return out, 1
}

func (f *fakeRegistry) Get(owner, triggerID string) (domain.Trigger, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[triggerID]
	return t, ok && t.Owner == owner
}

func (f *fakeRegistry) RecordRun(_ context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, run)
	return nil
}

func (f *fakeRegistry) AdvanceAfterFire(_ context.Context, triggerID string, firedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.triggers[triggerID]
	t.Schedule.Advance(firedAt)
	t.LastRanAt = &firedAt
	f.triggers[triggerID] = t
	f.fired = append(f.fired, triggerID)
	return nil
}

func (f *fakeRegistry) firedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func (f *fakeRegistry) persistedRuns() []domain.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Run, len(f.persisted))
	copy(out, f.persisted)
	return out
}

type fakeDispatcher struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (d *fakeDispatcher) Dispatch(_ context.Context, run domain.Run) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, run)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

func runAtTrigger(id string, at time.Time) domain.Trigger {
	return domain.Trigger{
		ID:     id,
		Owner:  "owner1",
		Name:   "t",
		Status: domain.TriggerScheduled,
		Action: domain.WebhookAction{URL: "https://example.com", Method: domain.MethodPOST, TimeoutS: 5},
		Schedule: domain.Schedule{
			Kind:  domain.ScheduleRunAt,
			RunAt: domain.RunAt{Timepoints: []time.Time{at}},
		},
	}
}

func TestSpinner_FiresDueTrigger(t *testing.T) {
	now := time.Now()
	trig := runAtTrigger("trig_owner1.a", now.Add(20*time.Millisecond))
	reg := newFakeRegistry(trig)
	disp := &fakeDispatcher{}
	s := spinner.New(reg, disp, clock.Real{}, testLogger())

	if err := s.Seed(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for disp.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count() != 1 {
		t.Fatalf("expected exactly 1 dispatched run, got %d", disp.count())
	}
	if reg.firedCount() != 1 {
		t.Fatalf("expected exactly 1 recorded fire, got %d", reg.firedCount())
	}
}

func TestSpinner_SkipsPausedTrigger(t *testing.T) {
	now := time.Now()
	trig := runAtTrigger("trig_owner1.a", now.Add(20*time.Millisecond))
	trig.Status = domain.TriggerPaused
	reg := newFakeRegistry(trig)
	disp := &fakeDispatcher{}
	s := spinner.New(reg, disp, clock.Real{}, testLogger())

	if err := s.Seed(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if disp.count() != 0 {
		t.Fatalf("expected paused trigger never to fire, got %d dispatches", disp.count())
	}
}

// rejectNTimesDispatcher reports backpressure for the first n calls, then
// accepts every call after — simulating a dispatcher that briefly saturates.
type rejectNTimesDispatcher struct {
	mu     sync.Mutex
	reject int
	calls  int
	runs   []domain.Run
}

func (d *rejectNTimesDispatcher) Dispatch(_ context.Context, run domain.Run) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.reject {
		return errs.New(errs.KindBackpressure, "dispatcher saturated")
	}
	d.runs = append(d.runs, run)
	return nil
}

func (d *rejectNTimesDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

func TestSpinner_RetriesAfterBackpressureWithoutAdvancingSchedule(t *testing.T) {
	now := time.Now()
	trig := runAtTrigger("trig_owner1.a", now.Add(20*time.Millisecond))
	reg := newFakeRegistry(trig)
	disp := &rejectNTimesDispatcher{reject: 2}
	s := spinner.New(reg, disp, clock.Real{}, testLogger())

	if err := s.Seed(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(1500 * time.Millisecond)
	for disp.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count() != 1 {
		t.Fatalf("expected exactly 1 dispatched run after retries, got %d", disp.count())
	}
	if reg.firedCount() != 1 {
		t.Fatalf("expected the schedule to advance only once the dispatch succeeded, got %d", reg.firedCount())
	}
	if len(reg.persistedRuns()) != 1 {
		t.Fatalf("expected exactly 1 persisted run across all backpressure retries, got %d", len(reg.persistedRuns()))
	}
}

func TestSpinner_PersistsRunBeforeDispatching(t *testing.T) {
	now := time.Now()
	trig := runAtTrigger("trig_owner1.a", now.Add(20*time.Millisecond))
	reg := newFakeRegistry(trig)
	disp := &fakeDispatcher{}
	s := spinner.New(reg, disp, clock.Real{}, testLogger())

	if err := s.Seed(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for disp.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count() != 1 {
		t.Fatalf("expected exactly 1 dispatched run, got %d", disp.count())
	}
	persisted := reg.persistedRuns()
	if len(persisted) != 1 {
		t.Fatalf("expected the run to be persisted via RecordRun, got %d persisted runs", len(persisted))
	}
	if persisted[0].ID != disp.runs[0].ID {
		t.Fatalf("expected the persisted run and the dispatched run to share an ID, got persisted=%s dispatched=%s", persisted[0].ID, disp.runs[0].ID)
	}
}

func TestSpinner_NotifyReschedulesAfterUpdate(t *testing.T) {
	now := time.Now()
	trig := runAtTrigger("trig_owner1.a", now.Add(time.Hour)) // far in the future
	reg := newFakeRegistry(trig)
	disp := &fakeDispatcher{}
	s := spinner.New(reg, disp, clock.Real{}, testLogger())

	if err := s.Seed(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.HeapDepth() != 1 {
		t.Fatalf("expected 1 heap entry after seed, got %d", s.HeapDepth())
	}

	// Simulate an update moving the fire time much sooner.
	updated := trig
	updated.Schedule.RunAt.Timepoints = []time.Time{now.Add(20 * time.Millisecond)}
	reg.mu.Lock()
	reg.triggers[trig.ID] = updated
	reg.mu.Unlock()

	ctx := context.Background()
	s.Notify(ctx, "owner1", trig.ID)

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	go s.Run(runCtx)

	deadline := time.Now().Add(250 * time.Millisecond)
	for disp.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count() != 1 {
		t.Fatalf("expected the rescheduled trigger to fire once, got %d", disp.count())
	}
}
