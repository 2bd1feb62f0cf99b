// Package spinner is the per-cell timer loop that fires triggers at their
// scheduled instant. It holds a min-heap of (fire_at, trigger_id,
// generation) entries; a generation counter on each entry lets a trigger
// update or cancellation invalidate a stale heap entry without having to
// find and remove it from the middle of the heap — the entry simply pops
// later, is recognized as stale against the registry's current generation,
// and is discarded. Grounded on the teacher's ticker-driven Dispatcher loop
// (internal/scheduler/dispatcher.go), generalized from a fixed-interval
// poll to an event-driven heap wakeup.
package spinner

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cronback-oss/cronback/internal/clock"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/id"
	"github.com/cronback-oss/cronback/internal/scheduleengine"
)

// backpressureRetryDelay is how long the spinner waits before retrying a
// firing that the dispatcher client rejected with KindBackpressure (spec.md
// §4.5: "this gives the dispatcher the ability to apply back-pressure to the
// scheduler").
const backpressureRetryDelay = 250 * time.Millisecond

// Dispatcher is the minimal surface the spinner needs from a dispatcher
// client — kept narrow and point-of-use so tests can fake it without
// pulling in the HTTP implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, run domain.Run) error
}

// Registry is the minimal surface the spinner needs from the trigger
// registry.
type Registry interface {
	Snapshot() ([]domain.Trigger, uint64)
	Get(owner, triggerID string) (domain.Trigger, bool)
	RecordRun(ctx context.Context, run domain.Run) error
	AdvanceAfterFire(ctx context.Context, triggerID string, firedAt time.Time) error
}

type entry struct {
	fireAt     time.Time
	triggerID  string
	owner      string
	generation uint64
	// run is non-nil once this firing's Run has been persisted via
	// RecordRun. It is carried across backpressure retries of the same
	// heap entry so a retry never persists (or dispatches) a second run
	// for the same timepoint.
	run *domain.Run
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].triggerID < h[j].triggerID
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Spinner fires registered triggers at their scheduled instants.
type Spinner struct {
	registry   Registry
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *slog.Logger

	mu           sync.Mutex
	h            entryHeap
	generations  map[string]uint64 // trigger ID -> current valid generation
	wake         chan struct{}
}

// New builds a Spinner over registry, submitting firings through dispatcher.
func New(registry Registry, dispatcher Dispatcher, c clock.Clock, logger *slog.Logger) *Spinner {
	return &Spinner{
		registry:    registry,
		dispatcher:  dispatcher,
		clock:       c,
		logger:      logger.With("component", "spinner"),
		generations: make(map[string]uint64),
		wake:        make(chan struct{}, 1),
	}
}

// Seed populates the heap with every trigger's next firing instant — called
// once after the registry has loaded from durable storage. Later changes
// reach the heap one trigger at a time through Notify.
func (s *Spinner) Seed(ctx context.Context) error {
	triggers, _ := s.registry.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = s.h[:0]
	heap.Init(&s.h)

	for _, t := range triggers {
		s.scheduleLocked(ctx, t)
	}
	return nil
}

// scheduleLocked computes t's next fire time and pushes a fresh heap entry,
// bumping its generation so any older entry still in the heap is recognized
// as stale when it eventually pops.
func (s *Spinner) scheduleLocked(ctx context.Context, t domain.Trigger) {
	next, ok, err := scheduleengine.Next(t.Schedule, s.clock.Now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to compute next fire time", "trigger_id", t.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	s.generations[t.ID]++
	heap.Push(&s.h, entry{
		fireAt:     next,
		triggerID:  t.ID,
		owner:      t.Owner,
		generation: s.generations[t.ID],
	})
}

// Notify tells the trigger it owns has changed (installed, updated, paused,
// cancelled) and should be re-scheduled from its current registry state.
// Safe to call from any goroutine.
func (s *Spinner) Notify(ctx context.Context, owner, triggerID string) {
	t, ok := s.registry.Get(owner, triggerID)

	s.mu.Lock()
	s.generations[triggerID]++ // invalidate any in-flight heap entry even if t no longer exists
	if ok {
		s.scheduleLocked(ctx, t)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the timer loop until ctx is cancelled.
func (s *Spinner) Run(ctx context.Context) {
	for {
		d := s.nextWait()
		timer := time.NewTimer(d)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// nextWait returns how long to sleep before the earliest heap entry is due.
func (s *Spinner) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return time.Minute
	}
	d := s.h[0].fireAt.Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// fireDue pops and fires every heap entry that is due, skipping stale ones.
// If the dispatcher reports backpressure, popping stops for this tick — the
// entry is re-queued a short delay out and the rest of the due entries wait
// their turn on the next wake, per spec.md §4.4/§4.5.
func (s *Spinner) fireDue(ctx context.Context) {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		if len(s.h) == 0 || s.h[0].fireAt.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.h).(entry)
		currentGen := s.generations[e.triggerID]
		s.mu.Unlock()

		if e.generation != currentGen {
			continue // stale: superseded by an update, pause, or cancel
		}
		if !s.fireOne(ctx, e) {
			return // backpressure: stop popping further due entries this tick
		}
	}
}

// fireOne fires a single due entry. It returns false when the dispatcher
// reported backpressure, telling fireDue to stop draining the heap for this
// tick; the entry is re-queued at backpressureRetryDelay without advancing
// its schedule, so the same timepoint is retried rather than skipped.
func (s *Spinner) fireOne(ctx context.Context, e entry) bool {
	t, ok := s.registry.Get(e.owner, e.triggerID)
	if !ok || t.Status.Terminal() || t.Status == domain.TriggerPaused {
		return true
	}

	run := e.run
	if run == nil {
		r := domain.Run{
			ID:          id.New(id.KindRun, t.Owner).String(),
			TriggerID:   t.ID,
			Owner:       t.Owner,
			ScheduledAt: e.fireAt,
			Status:      domain.RunPending,
			Payload:     t.Payload,
			Action:      t.Action,
		}
		// Persist the run before handing it to the dispatcher (spec.md
		// §4.4 step 3a precedes 3b): the dispatcher's RecordAttempt only
		// UPDATEs an existing runs row, so the INSERT must commit first or
		// a concurrent attempt's UPDATE would silently affect zero rows.
		if err := s.registry.RecordRun(ctx, r); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist run before dispatch", "trigger_id", t.ID, "run_id", r.ID, "error", err)
			s.requeue(e, nil, backpressureRetryDelay)
			return false
		}
		run = &r
	}

	// Hand the run to the dispatcher client before advancing the schedule
	// (spec.md §4.4 step 3b precedes 3c) so a backpressure rejection leaves
	// the trigger's cursor untouched and the same timepoint fires again —
	// reusing the already-persisted run rather than creating a new one.
	if err := s.dispatcher.Dispatch(ctx, *run); err != nil {
		if errs.KindOf(err) == errs.KindBackpressure {
			s.requeue(e, run, backpressureRetryDelay)
			return false
		}
		s.logger.ErrorContext(ctx, "dispatch failed", "trigger_id", t.ID, "run_id", run.ID, "error", err)
	}

	if err := s.registry.AdvanceAfterFire(ctx, t.ID, e.fireAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to advance schedule after fire", "trigger_id", t.ID, "error", err)
		return true
	}

	s.mu.Lock()
	if refreshed, ok := s.registry.Get(t.Owner, t.ID); ok {
		s.scheduleLocked(ctx, refreshed)
	}
	s.mu.Unlock()
	return true
}

// requeue re-pushes e onto the heap after delay, carrying run forward (if
// non-nil) so a retried firing reuses its already-persisted Run instead of
// minting and persisting a new one.
func (s *Spinner) requeue(e entry, run *domain.Run, delay time.Duration) {
	s.mu.Lock()
	heap.Push(&s.h, entry{
		fireAt:     s.clock.Now().Add(delay),
		triggerID:  e.triggerID,
		owner:      e.owner,
		generation: e.generation,
		run:        run,
	})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// HeapDepth reports the number of pending heap entries — exported for the
// spinner_heap_depth gauge.
func (s *Spinner) HeapDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}
