// Package store defines the trigger registry's durable-storage contract.
// Implementations live in internal/postgres; the registry and spinner only
// ever depend on this interface, never on pgx directly.
package store

import (
	"context"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
)

// Precondition gates a mutating call on the caller's belief about current
// state, so concurrent callers racing to install/update/cancel the same
// trigger get a clean "your view was stale" error instead of silently
// clobbering each other (spec.md §4.2 "optimistic concurrency").
type Precondition struct {
	// IfMatchETag, when non-empty, requires the stored trigger's ETag to
	// equal this value.
	IfMatchETag string
	// IfNotExists requires no trigger with the given ID (or ReferenceID,
	// for idempotent installs) to already exist.
	IfNotExists bool
}

// ListFilter narrows List queries.
type ListFilter struct {
	Owner     string
	Status    domain.TriggerStatus // zero value means "any status"
	Cursor    string                // opaque, from a previous page's NextCursor
	PageSize  int
}

// Page is a single page of triggers plus an opaque cursor for the next one.
type Page struct {
	Triggers   []domain.Trigger
	NextCursor string // empty when there is no further page
}

// TriggerStore is the durable-storage contract for triggers, runs, and
// attempts (spec.md §4.2 TriggerStore operations).
type TriggerStore interface {
	// Upsert installs or updates a trigger, honoring Precondition. Returns
	// errs.KindPreconditionFail on a precondition mismatch.
	Upsert(ctx context.Context, t domain.Trigger, pre Precondition) (domain.Trigger, error)

	// Get loads a single trigger by ID, scoped to owner.
	Get(ctx context.Context, owner, triggerID string) (domain.Trigger, error)

	// GetByReferenceID loads a trigger by its owner-scoped idempotency key.
	GetByReferenceID(ctx context.Context, owner, referenceID string) (domain.Trigger, error)

	// LoadActive returns every trigger that is not cancelled or expired
	// (scheduled, on_demand, paused) — called once at cell startup to prime
	// the in-memory registry (spec.md §4.3).
	LoadActive(ctx context.Context, ownerShardFilter func(owner string) bool) ([]domain.Trigger, error)

	// SetStatus transitions a trigger's status (pause/resume/cancel),
	// honoring Precondition.
	SetStatus(ctx context.Context, owner, triggerID string, status domain.TriggerStatus, pre Precondition) (domain.Trigger, error)

	// List returns a page of triggers matching filter.
	List(ctx context.Context, filter ListFilter) (Page, error)

	// Delete removes a single trigger permanently.
	Delete(ctx context.Context, owner, triggerID string) error

	// DeleteProject removes every trigger (and its run/attempt history)
	// belonging to owner — the admin teardown operation.
	DeleteProject(ctx context.Context, owner string) (deletedCount int, err error)

	// InsertRun persists a new Run row before it is handed to the
	// dispatcher (spec.md §4.3 run_now, §4.4 step 3a). The dispatcher's
	// RecordAttempt only ever UPDATEs an existing runs row, so a run must
	// always be inserted here first — scheduled firings (via the spinner)
	// and on-demand firings (via run_now) both call this ahead of dispatch.
	InsertRun(ctx context.Context, run domain.Run) error

	// AdvanceSchedule persists a trigger's advanced schedule cursor and
	// last_ran_at after a scheduled firing (spec.md §4.4 step 3c). Kept
	// separate from InsertRun so the scheduler can gate the cursor advance
	// on the dispatcher having accepted the run without affecting whether
	// the run itself was persisted.
	AdvanceSchedule(ctx context.Context, triggerID string, advancedSchedule domain.Schedule, now time.Time) error

	// RecordAttempt appends an Attempt to a Run and sets the run's status to
	// newRunStatus, stamping its finish time when that status is terminal.
	RecordAttempt(ctx context.Context, runID string, attempt domain.Attempt, newRunStatus domain.RunStatus) error

	// GetRun loads a single run with its attempt history.
	GetRun(ctx context.Context, owner, runID string) (domain.Run, error)

	// ListRuns returns a page of runs for a trigger, most recent first.
	ListRuns(ctx context.Context, owner, triggerID, cursor string, pageSize int) (runs []domain.Run, nextCursor string, err error)
}
