// Package domain holds the core entity types the scheduler and dispatcher
// operate on: Trigger, Run, Attempt, and the tagged Schedule variant.
package domain

import "time"

// TriggerStatus is the lifecycle state of a trigger (spec.md §3 "Lifecycles").
type TriggerStatus string

const (
	TriggerScheduled TriggerStatus = "scheduled"
	TriggerPaused    TriggerStatus = "paused"
	TriggerOnDemand  TriggerStatus = "on_demand"
	TriggerExpired   TriggerStatus = "expired"
	TriggerCancelled TriggerStatus = "cancelled"
)

// Terminal reports whether no further mutation is allowed except deletion
// (spec.md I8: cancelled is terminal).
func (s TriggerStatus) Terminal() bool {
	return s == TriggerCancelled
}

// Method is the HTTP verb a webhook action uses.
type Method string

const (
	MethodGET    Method = "GET"
	MethodPOST   Method = "POST"
	MethodPUT    Method = "PUT"
	MethodPATCH  Method = "PATCH"
	MethodHEAD   Method = "HEAD"
	MethodDELETE Method = "DELETE"
)

// WebhookAction is the only action kind today (spec.md §3).
type WebhookAction struct {
	URL         string
	Method      Method
	TimeoutS    int
	RetryPolicy *RetryPolicy // nil means the dispatcher's default policy applies
}

// RetryPolicyKind discriminates the two supported retry strategies.
type RetryPolicyKind string

const (
	RetrySimple      RetryPolicyKind = "simple"
	RetryExponential RetryPolicyKind = "exponential"
)

// RetryPolicy configures the retry policy engine (spec.md §4.8).
type RetryPolicy struct {
	Kind           RetryPolicyKind
	MaxNumAttempts int
	DelayS         int
	MaxDelayS      int // only meaningful for RetryExponential
}

// Payload is the body, content type, and header map snapshotted onto every run.
type Payload struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// Trigger is the user-facing scheduling object (spec.md §3).
type Trigger struct {
	ID           string
	Owner        string
	Name         string
	ReferenceID  string // optional idempotency key, unique per owner
	Description  string
	Action       WebhookAction
	Payload      Payload
	Schedule     Schedule
	Status       TriggerStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastRanAt    *time.Time
	ETag         string // opaque version token for optimistic-concurrency preconditions
}

// EstimatedFutureRuns returns up to n upcoming timepoints without mutating
// the trigger's schedule cursor — used to populate the canonical post-install
// form's estimated_future_runs[] (spec.md §4.3 install()).
func (t *Trigger) EstimatedFutureRuns(after time.Time, n int) []time.Time {
	clone := t.Schedule.Clone()
	out := make([]time.Time, 0, n)
	cursor := after
	for i := 0; i < n; i++ {
		next, ok := clone.NextAfter(cursor)
		if !ok {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out
}
