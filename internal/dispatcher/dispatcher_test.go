package dispatcher_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cronback-oss/cronback/internal/clock"
	"github.com/cronback-oss/cronback/internal/dispatcher"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/store"
	"github.com/cronback-oss/cronback/internal/webhook"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type scriptedExecutor struct {
	mu      sync.Mutex
	results []webhook.Result
	calls   int
}

func (e *scriptedExecutor) Execute(context.Context, domain.WebhookAction, domain.Payload) webhook.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.results[e.calls]
	if e.calls < len(e.results)-1 {
		e.calls++
	}
	return r
}

// recordingStore is a narrow fake satisfying store.TriggerStore, recording
// only what these tests assert on.
type recordingStore struct {
	mu       sync.Mutex
	attempts []domain.Attempt
}

func (s *recordingStore) RecordAttempt(_ context.Context, _ string, attempt domain.Attempt, _ domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *recordingStore) Upsert(context.Context, domain.Trigger, store.Precondition) (domain.Trigger, error) {
	return domain.Trigger{}, nil
}
func (s *recordingStore) Get(context.Context, string, string) (domain.Trigger, error) {
	return domain.Trigger{}, nil
}
func (s *recordingStore) GetByReferenceID(context.Context, string, string) (domain.Trigger, error) {
	return domain.Trigger{}, nil
}
func (s *recordingStore) LoadActive(context.Context, func(string) bool) ([]domain.Trigger, error) {
	return nil, nil
}
func (s *recordingStore) SetStatus(context.Context, string, string, domain.TriggerStatus, store.Precondition) (domain.Trigger, error) {
	return domain.Trigger{}, nil
}
func (s *recordingStore) List(context.Context, store.ListFilter) (store.Page, error) {
	return store.Page{}, nil
}
func (s *recordingStore) Delete(context.Context, string, string) error { return nil }
func (s *recordingStore) DeleteProject(context.Context, string) (int, error) {
	return 0, nil
}
func (s *recordingStore) InsertRun(context.Context, domain.Run) error { return nil }
func (s *recordingStore) AdvanceSchedule(context.Context, string, domain.Schedule, time.Time) error {
	return nil
}
func (s *recordingStore) GetRun(context.Context, string, string) (domain.Run, error) {
	return domain.Run{}, nil
}
func (s *recordingStore) ListRuns(context.Context, string, string, string, int) ([]domain.Run, string, error) {
	return nil, "", nil
}

func testRun() domain.Run {
	return domain.Run{
		ID:        "run_owner1.1",
		TriggerID: "trig_owner1.1",
		Owner:     "owner1",
		Status:    domain.RunPending,
		Action: domain.WebhookAction{
			URL: "https://example.com/hook", Method: domain.MethodPOST, TimeoutS: 5,
			RetryPolicy: &domain.RetryPolicy{Kind: domain.RetrySimple, MaxNumAttempts: 3, DelayS: 0},
		},
	}
}

func TestSubmitSync_SucceedsOnFirstAttempt(t *testing.T) {
	exec := &scriptedExecutor{results: []webhook.Result{{Outcome: domain.OutcomeSuccess, HTTPStatus: 200}}}
	st := &recordingStore{}
	r := dispatcher.New(st, exec, nil, clock.Real{}, dispatcher.Config{}, testLogger())

	result, err := r.SubmitSync(context.Background(), testRun(), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.RunSucceeded {
		t.Fatalf("expected succeeded, got %v", result.Status)
	}
	if st.count() != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", st.count())
	}
}

func TestSubmitSync_RetriesThenFails(t *testing.T) {
	exec := &scriptedExecutor{results: []webhook.Result{
		{Outcome: domain.OutcomeTimeout},
		{Outcome: domain.OutcomeTimeout},
		{Outcome: domain.OutcomeTimeout},
	}}
	st := &recordingStore{}
	r := dispatcher.New(st, exec, nil, clock.Real{}, dispatcher.Config{}, testLogger())

	result, err := r.SubmitSync(context.Background(), testRun(), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.RunFailed {
		t.Fatalf("expected failed after exhausting retries, got %v", result.Status)
	}
	if st.count() != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", st.count())
	}
}

func TestSubmitSync_RetriesBlockedPrivateIPLikeAnyOtherFailure(t *testing.T) {
	exec := &scriptedExecutor{results: []webhook.Result{
		{Outcome: domain.OutcomeBlockedPrivateIP},
		{Outcome: domain.OutcomeBlockedPrivateIP},
		{Outcome: domain.OutcomeBlockedPrivateIP},
	}}
	st := &recordingStore{}
	r := dispatcher.New(st, exec, nil, clock.Real{}, dispatcher.Config{}, testLogger())

	result, err := r.SubmitSync(context.Background(), testRun(), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.RunFailed || len(result.Attempts) != 3 {
		t.Fatalf("expected 3 failed attempts after exhausting retries, got status=%v attempts=%d", result.Status, len(result.Attempts))
	}
}

func TestSubmit_AppliesBackpressureWhenQueueFull(t *testing.T) {
	exec := &scriptedExecutor{results: []webhook.Result{{Outcome: domain.OutcomeSuccess}}}
	st := &recordingStore{}
	r := dispatcher.New(st, exec, nil, clock.Real{}, dispatcher.Config{QueueDepth: 1, Concurrency: 0}, testLogger())

	if err := r.Submit(context.Background(), testRun()); err != nil {
		t.Fatalf("unexpected error on first submit: %v", err)
	}
	err := r.Submit(context.Background(), testRun())
	if errs.KindOf(err) != errs.KindBackpressure {
		t.Fatalf("expected backpressure error, got %v", err)
	}
}
