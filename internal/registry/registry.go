// Package registry holds the in-memory, per-cell authoritative view of
// every trigger a scheduler cell owns. It is the single source of truth the
// spinner polls for next-fire instants; Postgres is durability underneath
// it, not a second source of truth read on the hot path (spec.md §4.3).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cronback-oss/cronback/internal/clock"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/id"
	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/scheduleengine"
	"github.com/cronback-oss/cronback/internal/store"
)

// Registry is the per-cell trigger map. All mutation goes through a
// per-owner lock so two concurrent install/update/pause calls for the same
// owner serialize instead of interleaving; reads take a versioned snapshot
// so a long-running spinner scan never blocks writers.
type Registry struct {
	store store.TriggerStore
	clock clock.Clock

	// dangerousFastForward controls how Install/Update normalize a run_at
	// schedule's timepoints: false drops any in the past, true collapses
	// them into "now" instead of silently discarding them (spec.md §4.4,
	// config DangerousFastForward).
	dangerousFastForward bool

	mu       sync.RWMutex
	version  uint64
	triggers map[string]domain.Trigger // trigger ID -> trigger
	byRef    map[string]string         // owner + "\x00" + reference_id -> trigger ID

	ownerLocksMu sync.Mutex
	ownerLocks   map[string]*sync.Mutex
}

// New builds an empty Registry backed by s.
func New(s store.TriggerStore, c clock.Clock) *Registry {
	return &Registry{
		store:      s,
		clock:      c,
		triggers:   make(map[string]domain.Trigger),
		byRef:      make(map[string]string),
		ownerLocks: make(map[string]*sync.Mutex),
	}
}

// WithDangerousFastForward sets the fast-forward policy applied to run_at
// schedules on install/update, returning r for chaining at construction
// time (e.g. registry.New(s, c).WithDangerousFastForward(cfg.DangerousFastForward)).
func (r *Registry) WithDangerousFastForward(enabled bool) *Registry {
	r.dangerousFastForward = enabled
	return r
}

// normalizeSchedule applies domain.NormalizeRunAt to a run_at schedule's
// timepoints in place, dropping or fast-forwarding anything in the past
// before the trigger is validated and persisted. Recurring schedules pass
// through untouched.
func (r *Registry) normalizeSchedule(s *domain.Schedule) {
	if s.Kind != domain.ScheduleRunAt {
		return
	}
	s.RunAt.Timepoints = domain.NormalizeRunAt(s.RunAt.Timepoints, r.clock.Now(), r.dangerousFastForward)
}

// Load primes the registry from durable storage, keeping only the triggers
// ownerFilter accepts — called once at cell startup (spec.md §5).
func (r *Registry) Load(ctx context.Context, ownerFilter func(owner string) bool) error {
	triggers, err := r.store.LoadActive(ctx, ownerFilter)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range triggers {
		r.triggers[t.ID] = t
		if t.ReferenceID != "" {
			r.byRef[refKey(t.Owner, t.ReferenceID)] = t.ID
		}
	}
	r.version++
	return nil
}

func refKey(owner, referenceID string) string { return owner + "\x00" + referenceID }

func (r *Registry) lockFor(owner string) *sync.Mutex {
	r.ownerLocksMu.Lock()
	defer r.ownerLocksMu.Unlock()
	l, ok := r.ownerLocks[owner]
	if !ok {
		l = &sync.Mutex{}
		r.ownerLocks[owner] = l
	}
	return l
}

// Snapshot returns a point-in-time copy of every trigger currently held,
// plus the version it was taken at — used by the spinner to rebuild its
// heap without holding the registry lock while it does so.
func (r *Registry) Snapshot() ([]domain.Trigger, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, t)
	}
	return out, r.version
}

// Get returns a single trigger by ID.
func (r *Registry) Get(owner, triggerID string) (domain.Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[triggerID]
	if !ok || t.Owner != owner {
		return domain.Trigger{}, false
	}
	return t, true
}

// GetByReferenceID resolves an owner-scoped idempotency key to a trigger.
func (r *Registry) GetByReferenceID(owner, referenceID string) (domain.Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	triggerID, ok := r.byRef[refKey(owner, referenceID)]
	if !ok {
		return domain.Trigger{}, false
	}
	t := r.triggers[triggerID]
	return t, true
}

// InstallResult is what Install/Update return to the RPC layer: the saved
// trigger plus a preview of its next few firing instants (spec.md §4.3
// estimated_future_runs).
type InstallResult struct {
	Trigger             domain.Trigger
	EstimatedFutureRuns []time.Time
}

const previewCount = 5

// Install creates a new trigger, or — if t.ReferenceID is set and an
// existing trigger with that reference already exists for the owner —
// returns the existing trigger unchanged (idempotent install, spec.md §4.2).
func (r *Registry) Install(ctx context.Context, t domain.Trigger) (InstallResult, error) {
	lock := r.lockFor(t.Owner)
	lock.Lock()
	defer lock.Unlock()

	if t.ReferenceID != "" {
		if existing, ok := r.GetByReferenceID(t.Owner, t.ReferenceID); ok {
			preview, _ := scheduleengine.InstallPreview(existing.Schedule, r.clock.Now(), previewCount)
			return InstallResult{Trigger: existing, EstimatedFutureRuns: preview}, nil
		}
	}

	r.normalizeSchedule(&t.Schedule)
	if err := t.Validate(); err != nil {
		return InstallResult{}, err
	}
	if t.ID == "" {
		t.ID = id.New(id.KindTrigger, t.Owner).String()
	}
	if t.Status == "" {
		t.Status = domain.TriggerScheduled
	}

	saved, err := r.store.Upsert(ctx, t, store.Precondition{IfNotExists: true})
	if err != nil {
		return InstallResult{}, err
	}

	r.put(saved)

	preview, err := scheduleengine.InstallPreview(saved.Schedule, r.clock.Now(), previewCount)
	if err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Trigger: saved, EstimatedFutureRuns: preview}, nil
}

// Update replaces a trigger's action/payload/schedule, enforcing optimistic
// concurrency via ifMatchETag.
func (r *Registry) Update(ctx context.Context, t domain.Trigger, ifMatchETag string) (InstallResult, error) {
	lock := r.lockFor(t.Owner)
	lock.Lock()
	defer lock.Unlock()

	existing, ok := r.Get(t.Owner, t.ID)
	if !ok {
		return InstallResult{}, errs.New(errs.KindNotFound, "trigger not found")
	}
	if existing.Status.Terminal() {
		return InstallResult{}, errs.New(errs.KindInvalidStatus, "cannot update a cancelled trigger")
	}
	r.normalizeSchedule(&t.Schedule)
	if err := t.Validate(); err != nil {
		return InstallResult{}, err
	}

	t.Status = existing.Status
	t.CreatedAt = existing.CreatedAt
	saved, err := r.store.Upsert(ctx, t, store.Precondition{IfMatchETag: ifMatchETag})
	if err != nil {
		return InstallResult{}, err
	}

	r.put(saved)

	preview, err := scheduleengine.InstallPreview(saved.Schedule, r.clock.Now(), previewCount)
	if err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Trigger: saved, EstimatedFutureRuns: preview}, nil
}

// setStatus is the shared implementation behind Pause/Resume/Cancel.
func (r *Registry) setStatus(ctx context.Context, owner, triggerID string, next domain.TriggerStatus) (domain.Trigger, error) {
	lock := r.lockFor(owner)
	lock.Lock()
	defer lock.Unlock()

	existing, ok := r.Get(owner, triggerID)
	if !ok {
		return domain.Trigger{}, errs.New(errs.KindNotFound, "trigger not found")
	}
	if !existing.CanTransitionTo(next) {
		return domain.Trigger{}, errs.New(errs.KindInvalidStatus, fmt.Sprintf("cannot transition from %s to %s", existing.Status, next))
	}

	saved, err := r.store.SetStatus(ctx, owner, triggerID, next, store.Precondition{IfMatchETag: existing.ETag})
	if err != nil {
		return domain.Trigger{}, err
	}
	r.put(saved)
	return saved, nil
}

// Pause suspends a scheduled trigger without losing its schedule cursor.
func (r *Registry) Pause(ctx context.Context, owner, triggerID string) (domain.Trigger, error) {
	return r.setStatus(ctx, owner, triggerID, domain.TriggerPaused)
}

// Resume un-suspends a paused trigger.
func (r *Registry) Resume(ctx context.Context, owner, triggerID string) (domain.Trigger, error) {
	return r.setStatus(ctx, owner, triggerID, domain.TriggerScheduled)
}

// Cancel permanently stops a trigger from firing again (terminal, spec.md I8).
func (r *Registry) Cancel(ctx context.Context, owner, triggerID string) (domain.Trigger, error) {
	trig, err := r.setStatus(ctx, owner, triggerID, domain.TriggerCancelled)
	if err != nil {
		return domain.Trigger{}, err
	}
	r.remove(triggerID)
	return trig, nil
}

// Delete permanently removes a trigger and its history.
func (r *Registry) Delete(ctx context.Context, owner, triggerID string) error {
	lock := r.lockFor(owner)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.Delete(ctx, owner, triggerID); err != nil {
		return err
	}
	r.remove(triggerID)
	return nil
}

// DeleteProject tears down every trigger belonging to owner.
func (r *Registry) DeleteProject(ctx context.Context, owner string) (int, error) {
	lock := r.lockFor(owner)
	lock.Lock()
	defer lock.Unlock()

	n, err := r.store.DeleteProject(ctx, owner)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	for tid, t := range r.triggers {
		if t.Owner == owner {
			delete(r.triggers, tid)
			if t.ReferenceID != "" {
				delete(r.byRef, refKey(owner, t.ReferenceID))
			}
		}
	}
	r.version++
	r.mu.Unlock()

	return n, nil
}

// RecordRun persists run's row before it is handed to the dispatcher.
// Called by the spinner for scheduled firings and by the run_now RPC
// handler for on-demand firings (spec.md §4.3 run_now, §4.4 step 3a) — must
// happen before Dispatch, since the dispatcher's RecordAttempt only ever
// UPDATEs an existing runs row.
func (r *Registry) RecordRun(ctx context.Context, run domain.Run) error {
	return r.store.InsertRun(ctx, run)
}

// AdvanceAfterFire advances trigger's schedule cursor to firedAt and
// persists the resulting state — called by the spinner once the dispatcher
// client has accepted a firing (spec.md §4.4 step 3c), independent of
// whether the run itself (already persisted via RecordRun) was accepted.
func (r *Registry) AdvanceAfterFire(ctx context.Context, triggerID string, firedAt time.Time) error {
	r.mu.RLock()
	existing, ok := r.triggers[triggerID]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindNotFound, "trigger not found")
	}

	lock := r.lockFor(existing.Owner)
	lock.Lock()
	defer lock.Unlock()

	advanced := existing.Schedule
	advanced.Advance(firedAt)

	if err := r.store.AdvanceSchedule(ctx, triggerID, advanced, firedAt); err != nil {
		return err
	}

	existing.Schedule = advanced
	existing.LastRanAt = &firedAt
	if advanced.IsExhausted(firedAt) {
		existing.Status = domain.TriggerExpired
		metrics.TriggersExpiredTotal.Inc()
	}
	r.put(existing)
	return nil
}

func (r *Registry) put(t domain.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.triggers[t.ID]; ok && old.ReferenceID != "" && old.ReferenceID != t.ReferenceID {
		delete(r.byRef, refKey(old.Owner, old.ReferenceID))
	}
	if t.Status.Terminal() || t.Status == domain.TriggerExpired {
		delete(r.triggers, t.ID)
		if t.ReferenceID != "" {
			delete(r.byRef, refKey(t.Owner, t.ReferenceID))
		}
	} else {
		r.triggers[t.ID] = t
		if t.ReferenceID != "" {
			r.byRef[refKey(t.Owner, t.ReferenceID)] = t.ID
		}
	}
	r.version++
}

func (r *Registry) remove(triggerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.triggers[triggerID]; ok {
		delete(r.triggers, triggerID)
		if t.ReferenceID != "" {
			delete(r.byRef, refKey(t.Owner, t.ReferenceID))
		}
		r.version++
	}
}
