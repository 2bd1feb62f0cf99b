package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/id"
	"github.com/cronback-oss/cronback/internal/store"
)

// TriggerStore is the pgx-backed store.TriggerStore implementation.
type TriggerStore struct {
	pool *pgxpool.Pool
}

// NewTriggerStore wraps pool as a store.TriggerStore.
func NewTriggerStore(pool *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

var _ store.TriggerStore = (*TriggerStore)(nil)

// Upsert installs or updates a trigger inside a transaction so the
// precondition check and the write are atomic — the same "claim, then act"
// shape as the teacher's ClaimAndFire, generalized from a FOR UPDATE SKIP
// LOCKED job claim to a FOR UPDATE existence/ETag check.
func (s *TriggerStore) Upsert(ctx context.Context, t domain.Trigger, pre store.Precondition) (domain.Trigger, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "begin upsert tx", err)
	}
	defer tx.Rollback(ctx)

	var existingETag string
	err = tx.QueryRow(ctx, `SELECT etag FROM triggers WHERE id = $1 AND owner = $2 FOR UPDATE`, t.ID, t.Owner).Scan(&existingETag)
	exists := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "check existing trigger", err)
	}

	if pre.IfNotExists && exists {
		return domain.Trigger{}, errs.New(errs.KindPreconditionFail, "trigger already exists")
	}
	if pre.IfMatchETag != "" && (!exists || existingETag != pre.IfMatchETag) {
		return domain.Trigger{}, errs.New(errs.KindPreconditionFail, "trigger etag mismatch")
	}

	actionJSON, payloadJSON, scheduleJSON, err := marshalTrigger(t)
	if err != nil {
		return domain.Trigger{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO triggers (
			id, owner, name, reference_id, description, action, payload, schedule,
			status, created_at, updated_at, last_ran_at, etag
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW(),$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			action = EXCLUDED.action, payload = EXCLUDED.payload,
			schedule = EXCLUDED.schedule, status = EXCLUDED.status,
			updated_at = NOW(), etag = EXCLUDED.etag
		RETURNING id, owner, name, reference_id, description, action, payload,
		          schedule, status, created_at, updated_at, last_ran_at, etag`,
		t.ID, t.Owner, t.Name, nullableString(t.ReferenceID), t.Description,
		actionJSON, payloadJSON, scheduleJSON, t.Status, t.LastRanAt, id.New(id.KindTrigger, t.Owner).String(),
	)

	saved, err := scanTrigger(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Trigger{}, errs.New(errs.KindPreconditionFail, "reference_id already in use for this owner")
		}
		return domain.Trigger{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "commit upsert tx", err)
	}
	return saved, nil
}

func (s *TriggerStore) Get(ctx context.Context, owner, triggerID string) (domain.Trigger, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner, name, reference_id, description, action, payload,
		       schedule, status, created_at, updated_at, last_ran_at, etag
		FROM triggers WHERE id = $1 AND owner = $2`, triggerID, owner)
	return scanTrigger(row)
}

func (s *TriggerStore) GetByReferenceID(ctx context.Context, owner, referenceID string) (domain.Trigger, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner, name, reference_id, description, action, payload,
		       schedule, status, created_at, updated_at, last_ran_at, etag
		FROM triggers WHERE owner = $1 AND reference_id = $2`, owner, referenceID)
	return scanTrigger(row)
}

// LoadActive streams every scheduled/on_demand/paused trigger, filtering to
// the owners the calling cell currently owns — called once at startup to
// prime the in-memory registry (spec.md §4.3).
func (s *TriggerStore) LoadActive(ctx context.Context, ownerShardFilter func(owner string) bool) ([]domain.Trigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, name, reference_id, description, action, payload,
		       schedule, status, created_at, updated_at, last_ran_at, etag
		FROM triggers WHERE status IN ('scheduled', 'on_demand', 'paused')`)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "load active triggers", err)
	}
	defer rows.Close()

	var out []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		if ownerShardFilter == nil || ownerShardFilter(t.Owner) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (s *TriggerStore) SetStatus(ctx context.Context, owner, triggerID string, status domain.TriggerStatus, pre store.Precondition) (domain.Trigger, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "begin set-status tx", err)
	}
	defer tx.Rollback(ctx)

	var existingETag string
	err = tx.QueryRow(ctx, `SELECT etag FROM triggers WHERE id = $1 AND owner = $2 FOR UPDATE`, triggerID, owner).Scan(&existingETag)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trigger{}, errs.New(errs.KindNotFound, "trigger not found")
	}
	if err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "load trigger for status change", err)
	}
	if pre.IfMatchETag != "" && existingETag != pre.IfMatchETag {
		return domain.Trigger{}, errs.New(errs.KindPreconditionFail, "trigger etag mismatch")
	}

	newETag := id.New(id.KindTrigger, owner).String()
	row := tx.QueryRow(ctx, `
		UPDATE triggers SET status = $3, updated_at = NOW(), etag = $4
		WHERE id = $1 AND owner = $2
		RETURNING id, owner, name, reference_id, description, action, payload,
		          schedule, status, created_at, updated_at, last_ran_at, etag`,
		triggerID, owner, status, newETag)

	saved, err := scanTrigger(row)
	if err != nil {
		return domain.Trigger{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "commit set-status tx", err)
	}
	return saved, nil
}

func (s *TriggerStore) List(ctx context.Context, filter store.ListFilter) (store.Page, error) {
	c, err := decodeCursor(filter.Cursor)
	if err != nil {
		return store.Page{}, err
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	args := []any{filter.Owner}
	where := []string{"owner = $1"}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Cursor != "" {
		args = append(args, c.CreatedAt, c.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, pageSize+1)

	query := fmt.Sprintf(`
		SELECT id, owner, name, reference_id, description, action, payload,
		       schedule, status, created_at, updated_at, last_ran_at, etag
		FROM triggers
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, joinAnd(where), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.Page{}, errs.Wrap(errs.KindStoreUnavailable, "list triggers", err)
	}
	defer rows.Close()

	var triggers []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return store.Page{}, err
		}
		triggers = append(triggers, t)
	}

	var next string
	if len(triggers) > pageSize {
		last := triggers[pageSize-1]
		next = encodeCursor(last.CreatedAt, last.ID)
		triggers = triggers[:pageSize]
	}
	return store.Page{Triggers: triggers, NextCursor: next}, nil
}

func (s *TriggerStore) Delete(ctx context.Context, owner, triggerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1 AND owner = $2`, triggerID, owner)
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "delete trigger", err)
	}
	return nil
}

func (s *TriggerStore) DeleteProject(ctx context.Context, owner string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE owner = $1`, owner)
	if err != nil {
		return 0, errs.Wrap(errs.KindStoreUnavailable, "delete project triggers", err)
	}
	return int(tag.RowsAffected()), nil
}

func marshalTrigger(t domain.Trigger) (action, payload, schedule []byte, err error) {
	action, err = json.Marshal(t.Action)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.KindInternal, "marshal action", err)
	}
	payload, err = json.Marshal(t.Payload)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.KindInternal, "marshal payload", err)
	}
	schedule, err = json.Marshal(t.Schedule)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.KindInternal, "marshal schedule", err)
	}
	return action, payload, schedule, nil
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var t domain.Trigger
	var referenceID *string
	var actionJSON, payloadJSON, scheduleJSON []byte

	err := row.Scan(
		&t.ID, &t.Owner, &t.Name, &referenceID, &t.Description,
		&actionJSON, &payloadJSON, &scheduleJSON, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &t.LastRanAt, &t.ETag,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trigger{}, errs.New(errs.KindNotFound, "trigger not found")
		}
		return domain.Trigger{}, errs.Wrap(errs.KindStoreUnavailable, "scan trigger", err)
	}
	if referenceID != nil {
		t.ReferenceID = *referenceID
	}
	if err := json.Unmarshal(actionJSON, &t.Action); err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindInternal, "unmarshal action", err)
	}
	if err := json.Unmarshal(payloadJSON, &t.Payload); err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindInternal, "unmarshal payload", err)
	}
	if err := json.Unmarshal(scheduleJSON, &t.Schedule); err != nil {
		return domain.Trigger{}, errs.Wrap(errs.KindInternal, "unmarshal schedule", err)
	}
	return t, nil
}

// rowScanner lets scanTrigger/scanRun share code across
// QueryRow and Query results, same trick as the teacher's job_repo.go.
type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func joinAnd(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " AND " + p
	}
	return out
}
