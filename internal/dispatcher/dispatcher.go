// Package dispatcher is the dispatcher-side execution engine: a bounded
// queue of runs waiting to be attempted, a pool of worker goroutines that
// pull from it, and the attempt/retry loop each run goes through until it
// reaches a terminal state. Grounded on the teacher's Worker
// (internal/scheduler/worker.go) — claim-batch-of-jobs-then-fan-out-
// goroutines becomes push-a-run-onto-a-channel-then-a-fixed-pool-drains-it,
// since the dispatcher here is pushed to by the scheduler rather than
// polling a shared table itself.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/cronback-oss/cronback/internal/clock"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/events"
	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/retrypolicy"
	"github.com/cronback-oss/cronback/internal/store"
	"github.com/cronback-oss/cronback/internal/webhook"
)

// Executor is the minimal surface the dispatcher needs from the webhook
// package.
type Executor interface {
	Execute(ctx context.Context, action domain.WebhookAction, payload domain.Payload) webhook.Result
}

// Config tunes queue depth and worker concurrency.
type Config struct {
	QueueDepth  int
	Concurrency int
}

// Runner owns the bounded run queue and its worker pool.
type Runner struct {
	store     store.TriggerStore
	executor  Executor
	publisher *events.Publisher
	clock     clock.Clock
	logger    *slog.Logger

	queue chan domain.Run
	done  chan struct{}
}

// New builds a Runner. Call Start to launch its worker pool.
func New(s store.TriggerStore, exec Executor, pub *events.Publisher, c clock.Clock, cfg Config, logger *slog.Logger) *Runner {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	return &Runner{
		store:     s,
		executor:  exec,
		publisher: pub,
		clock:     c,
		logger:    logger.With("component", "dispatcher_runner"),
		queue:     make(chan domain.Run, cfg.QueueDepth),
		done:      make(chan struct{}),
	}
}

// Start launches concurrency worker goroutines (20 when concurrency is not
// positive) that drain the queue until ctx is cancelled.
func (r *Runner) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 20
	}
	for i := 0; i < concurrency; i++ {
		go r.worker(ctx)
	}
}

func (r *Runner) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case run := <-r.queue:
			r.runToCompletion(ctx, run)
		}
	}
}

// Submit enqueues run for asynchronous execution, returning
// errs.KindBackpressure immediately if the queue is full rather than
// blocking the caller (spec.md §4.6 "the dispatcher's execution queue is
// bounded; callers must treat a full queue as backpressure, not as a reason
// to block").
func (r *Runner) Submit(ctx context.Context, run domain.Run) error {
	select {
	case r.queue <- run:
		return nil
	default:
		return errs.New(errs.KindBackpressure, "dispatcher execution queue is full")
	}
}

// SubmitSync executes run inline and blocks until it reaches a terminal
// state or deadline elapses.
func (r *Runner) SubmitSync(ctx context.Context, run domain.Run, deadline time.Time) (domain.Run, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return r.runToCompletion(ctx, run), ctx.Err()
}

// runToCompletion executes attempts for run until a terminal outcome is
// reached, persisting every attempt and the run's final status.
func (r *Runner) runToCompletion(ctx context.Context, run domain.Run) domain.Run {
	policy := run.Action.RetryPolicy
	if policy == nil {
		policy = retrypolicy.Default()
	}

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	for {
		attemptNum := run.NextAttemptNum()
		startedAt := r.clock.Now()

		result := r.executor.Execute(ctx, run.Action, run.Payload)

		attempt := domain.Attempt{
			Num:          attemptNum,
			StartedAt:    startedAt,
			FinishedAt:   r.clock.Now(),
			Outcome:      result.Outcome,
			HTTPStatus:   result.HTTPStatus,
			ErrorMessage: result.ErrorMessage,
			ResponseSize: result.ResponseSize,
		}
		run.Attempts = append(run.Attempts, attempt)

		decision := retrypolicy.Evaluate(policy, attemptNum, result.Outcome)

		newStatus := domain.RunDispatch
		if result.Outcome == domain.OutcomeSuccess {
			newStatus = domain.RunSucceeded
		} else if !decision.ShouldRetry {
			newStatus = domain.RunFailed
		}
		run.Status = newStatus

		if err := r.store.RecordAttempt(ctx, run.ID, attempt, newStatus); err != nil {
			r.logger.ErrorContext(ctx, "failed to persist attempt", "run_id", run.ID, "error", err)
		}

		if newStatus.Terminal() {
			metrics.RunsCompletedTotal.WithLabelValues(string(newStatus)).Inc()
			r.emitTerminalEvent(ctx, run, attempt)
			finished := r.clock.Now()
			run.FinishedAt = &finished
			return run
		}

		select {
		case <-ctx.Done():
			return run
		case <-time.After(decision.Delay):
		}
	}
}

func (r *Runner) emitTerminalEvent(ctx context.Context, run domain.Run, attempt domain.Attempt) {
	if r.publisher == nil {
		return
	}
	kind := events.RunFailed
	if run.Status == domain.RunSucceeded {
		kind = events.RunSucceeded
	}
	r.publisher.Publish(ctx, events.RunEvent{
		Kind:       kind,
		RunID:      run.ID,
		TriggerID:  run.TriggerID,
		Owner:      run.Owner,
		Status:     run.Status,
		AttemptNum: attempt.Num,
		OccurredAt: r.clock.Now(),
	})
}
