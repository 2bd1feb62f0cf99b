package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
)

// InsertRun inserts a new run row. Called before the run is handed to the
// dispatcher, scheduled or on-demand (spec.md §4.3/§4.4) — the dispatcher's
// RecordAttempt only ever UPDATEs an existing runs row, so this INSERT must
// commit first or an in-flight attempt's UPDATE silently affects zero rows.
func (s *TriggerStore) InsertRun(ctx context.Context, run domain.Run) error {
	actionJSON, err := json.Marshal(run.Action)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal run action", err)
	}
	payloadJSON, err := json.Marshal(run.Payload)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal run payload", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, trigger_id, owner, scheduled_at, status, action, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		run.ID, run.TriggerID, run.Owner, run.ScheduledAt, run.Status, actionJSON, payloadJSON)
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "insert run", err)
	}
	return nil
}

// AdvanceSchedule persists a trigger's advanced schedule cursor and
// last_ran_at after the spinner's dispatcher client has accepted a firing
// (spec.md §4.4 step 3c) — kept separate from InsertRun so a backpressure
// rejection never rolls back the run that was already persisted.
func (s *TriggerStore) AdvanceSchedule(ctx context.Context, triggerID string, advancedSchedule domain.Schedule, now time.Time) error {
	scheduleJSON, err := json.Marshal(advancedSchedule)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal advanced schedule", err)
	}
	newStatus := domain.TriggerScheduled
	if advancedSchedule.IsExhausted(now) {
		newStatus = domain.TriggerExpired
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE triggers SET schedule = $2, last_ran_at = $3, status = CASE WHEN status = 'cancelled' THEN status ELSE $4 END, updated_at = NOW()
		WHERE id = $1`, triggerID, scheduleJSON, now, newStatus)
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "advance trigger schedule", err)
	}
	return nil
}

// RecordAttempt appends an attempt and sets the run's status to
// newRunStatus in the same transaction, also setting finished_at when that
// status is terminal.
func (s *TriggerStore) RecordAttempt(ctx context.Context, runID string, attempt domain.Attempt, newRunStatus domain.RunStatus) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "begin record-attempt tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO attempts (run_id, attempt_num, started_at, finished_at, outcome, http_status, error_message, response_size)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		runID, attempt.Num, attempt.StartedAt, attempt.FinishedAt, attempt.Outcome,
		nullableInt(attempt.HTTPStatus), nullableString(attempt.ErrorMessage), attempt.ResponseSize)
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "insert attempt", err)
	}

	if newRunStatus.Terminal() {
		_, err = tx.Exec(ctx, `UPDATE runs SET status = $2, finished_at = $3 WHERE id = $1`, runID, newRunStatus, attempt.FinishedAt)
	} else {
		_, err = tx.Exec(ctx, `UPDATE runs SET status = $2 WHERE id = $1`, runID, newRunStatus)
	}
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "update run status", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "commit record-attempt tx", err)
	}
	return nil
}

func (s *TriggerStore) GetRun(ctx context.Context, owner, runID string) (domain.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, trigger_id, owner, scheduled_at, started_at, finished_at, status, action, payload
		FROM runs WHERE id = $1 AND owner = $2`, runID, owner)

	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, err
	}

	attempts, err := s.listAttempts(ctx, run.ID)
	if err != nil {
		return domain.Run{}, err
	}
	run.Attempts = attempts
	return run, nil
}

func (s *TriggerStore) ListRuns(ctx context.Context, owner, triggerID, cursorStr string, pageSize int) ([]domain.Run, string, error) {
	c, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	args := []any{owner, triggerID}
	where := "owner = $1 AND trigger_id = $2"
	if cursorStr != "" {
		args = append(args, c.CreatedAt, c.ID)
		where += " AND (scheduled_at, id) < ($3, $4)"
	}
	args = append(args, pageSize+1)

	query := fmt.Sprintf(`
		SELECT id, trigger_id, owner, scheduled_at, started_at, finished_at, status, action, payload
		FROM runs WHERE %s ORDER BY scheduled_at DESC, id DESC LIMIT $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", errs.Wrap(errs.KindStoreUnavailable, "list runs", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		runs = append(runs, r)
	}

	var next string
	if len(runs) > pageSize {
		last := runs[pageSize-1]
		next = encodeCursor(last.ScheduledAt, last.ID)
		runs = runs[:pageSize]
	}
	return runs, next, nil
}

func (s *TriggerStore) listAttempts(ctx context.Context, runID string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT attempt_num, started_at, finished_at, outcome, http_status, error_message, response_size
		FROM attempts WHERE run_id = $1 ORDER BY attempt_num ASC`, runID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "list attempts", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var httpStatus *int
		var errMsg *string
		if err := rows.Scan(&a.Num, &a.StartedAt, &a.FinishedAt, &a.Outcome, &httpStatus, &errMsg, &a.ResponseSize); err != nil {
			return nil, errs.Wrap(errs.KindStoreUnavailable, "scan attempt", err)
		}
		if httpStatus != nil {
			a.HTTPStatus = *httpStatus
		}
		if errMsg != nil {
			a.ErrorMessage = *errMsg
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	var actionJSON, payloadJSON []byte

	err := row.Scan(&r.ID, &r.TriggerID, &r.Owner, &r.ScheduledAt, &r.StartedAt, &r.FinishedAt, &r.Status, &actionJSON, &payloadJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, errs.New(errs.KindNotFound, "run not found")
		}
		return domain.Run{}, errs.Wrap(errs.KindStoreUnavailable, "scan run", err)
	}
	if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
		return domain.Run{}, errs.Wrap(errs.KindInternal, "unmarshal run action", err)
	}
	if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
		return domain.Run{}, errs.Wrap(errs.KindInternal, "unmarshal run payload", err)
	}
	return r, nil
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

