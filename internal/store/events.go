package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EventRepository persists and queries Event rows.
type EventRepository struct {
	db *Store
}

// Events returns a repository bound to the given store.
func (s *Store) Events() *EventRepository { return &EventRepository{db: s} }

// Upsert creates or replaces an event definition.
func (r *EventRepository) Upsert(ctx context.Context, e Event) error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	now := nowISO()
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = EventStatusActive
	}

	_, err := r.db.DB.NamedExecContext(ctx, `
		INSERT INTO events (
			id, type, condition_type, condition_expr, next_eval_at, action_type,
			action_config, status, priority, concurrency_key, max_retries,
			retry_backoff_minutes, consecutive_fails, run_count, fail_count,
			lock_holder, lock_expires_at, expires_at, metadata, description,
			created_at, updated_at
		) VALUES (
			:id, :type, :condition_type, :condition_expr, :next_eval_at, :action_type,
			:action_config, :status, :priority, :concurrency_key, :max_retries,
			:retry_backoff_minutes, :consecutive_fails, :run_count, :fail_count,
			:lock_holder, :lock_expires_at, :expires_at, :metadata, :description,
			:created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			condition_type = excluded.condition_type,
			condition_expr = excluded.condition_expr,
			next_eval_at = excluded.next_eval_at,
			action_type = excluded.action_type,
			action_config = excluded.action_config,
			status = excluded.status,
			priority = excluded.priority,
			concurrency_key = excluded.concurrency_key,
			max_retries = excluded.max_retries,
			retry_backoff_minutes = excluded.retry_backoff_minutes,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, e)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}
	return nil
}

// Get fetches a single event by id.
func (r *EventRepository) Get(ctx context.Context, id string) (Event, error) {
	var e Event
	err := r.db.DB.GetContext(ctx, &e, `SELECT * FROM events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, NewNotFoundError("event", id)
	}
	if err != nil {
		return Event{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// List returns events, optionally filtered by status, newest-updated first.
func (r *EventRepository) List(ctx context.Context, status string, p PaginationParams) ([]Event, error) {
	var events []Event
	var err error
	if status == "" {
		err = r.db.DB.SelectContext(ctx, &events,
			`SELECT * FROM events ORDER BY updated_at DESC LIMIT ? OFFSET ?`, p.Limit, p.Offset)
	} else {
		err = r.db.DB.SelectContext(ctx, &events,
			`SELECT * FROM events WHERE status = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`, status, p.Limit, p.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Candidates returns events eligible for engine evaluation: active, due, and
// either unlocked or holding an expired lock.
func (r *EventRepository) Candidates(ctx context.Context, nowISOValue string) ([]Event, error) {
	var events []Event
	err := r.db.DB.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE status = ?
		  AND next_eval_at <= ?
		  AND (lock_holder IS NULL OR lock_expires_at < ?)
		ORDER BY priority ASC, next_eval_at ASC
	`, EventStatusActive, nowISOValue, nowISOValue)
	if err != nil {
		return nil, fmt.Errorf("list candidate events: %w", err)
	}
	return events, nil
}

// ChainedByFlow returns every flow event chained off of flowID, i.e. rows
// with type='flow', condition_type='flow_chain', condition_expr=flowID —
// the candidates for the flow interpreter's chain-triggering step.
func (r *EventRepository) ChainedByFlow(ctx context.Context, flowID string) ([]Event, error) {
	var events []Event
	err := r.db.DB.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE type = 'flow' AND condition_type = ? AND condition_expr = ?
	`, ConditionFlowChain, flowID)
	if err != nil {
		return nil, fmt.Errorf("list chained flows for %s: %w", flowID, err)
	}
	return events, nil
}

// AcquireLock performs the CAS lock acquisition: it only succeeds if the lock
// is currently vacant or expired. Returns true if this call won the lock.
func (r *EventRepository) AcquireLock(ctx context.Context, id, instanceID, nowISOValue, lockUntil string) (bool, error) {
	res, err := r.db.DB.ExecContext(ctx, `
		UPDATE events
		SET lock_holder = ?, lock_expires_at = ?
		WHERE id = ?
		  AND (lock_holder IS NULL OR lock_expires_at < ?)
	`, instanceID, lockUntil, id, nowISOValue)
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseLock clears the lock fields unconditionally; the engine calls it on
// every branch exit that does not already clear the lock through Pause or
// AdvanceSchedule.
func (r *EventRepository) ReleaseLock(ctx context.Context, id string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE events SET lock_holder = NULL, lock_expires_at = NULL WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("release lock for %s: %w", id, err)
	}
	return nil
}

// ClearExpiredLocks releases every lock whose expiry has passed; used by the
// ops monitor's lock-eviction sweep. Returns the ids of the events whose
// locks were cleared.
func (r *EventRepository) ClearExpiredLocks(ctx context.Context, nowISOValue string) ([]string, error) {
	rows, err := r.db.DB.QueryxContext(ctx, `
		UPDATE events
		SET lock_holder = NULL, lock_expires_at = NULL
		WHERE lock_holder IS NOT NULL AND lock_expires_at < ?
		RETURNING id
	`, nowISOValue)
	if err != nil {
		return nil, fmt.Errorf("clear expired locks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cleared lock id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clear expired locks rows: %w", err)
	}
	return ids, nil
}

// AdvanceSchedule updates next_eval_at after a successful enqueue, releasing
// the lock in the same statement. A condition evaluating to false only
// releases the lock and leaves next_eval_at as it is.
func (r *EventRepository) AdvanceSchedule(ctx context.Context, id, nextEvalAt, updatedAt string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE events
		SET next_eval_at = ?, updated_at = ?, lock_holder = NULL, lock_expires_at = NULL
		WHERE id = ?
	`, nextEvalAt, updatedAt, id)
	if err != nil {
		return fmt.Errorf("advance schedule for %s: %w", id, err)
	}
	return nil
}

// RecordSuccess resets the failure streak after a successful run completion.
func (r *EventRepository) RecordSuccess(ctx context.Context, id string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE events
		SET run_count = run_count + 1, consecutive_fails = 0, updated_at = ?
		WHERE id = ?
	`, nowISO(), id)
	if err != nil {
		return fmt.Errorf("record success for %s: %w", id, err)
	}
	return nil
}

// RecordFailure increments the failure counters after a failed run completion.
func (r *EventRepository) RecordFailure(ctx context.Context, id string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE events
		SET run_count = run_count + 1, fail_count = fail_count + 1,
		    consecutive_fails = consecutive_fails + 1, updated_at = ?
		WHERE id = ?
	`, nowISO(), id)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", id, err)
	}
	return nil
}

// Pause sets status = paused, releasing the lock. Called when consecutive
// failures reach max_retries.
func (r *EventRepository) Pause(ctx context.Context, id string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE events
		SET status = ?, lock_holder = NULL, lock_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, EventStatusPaused, nowISO(), id)
	if err != nil {
		return fmt.Errorf("pause event %s: %w", id, err)
	}
	return nil
}

// Delete removes an event definition.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NewNotFoundError("event", id)
	}
	return nil
}
