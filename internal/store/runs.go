package store

import (
	"context"
	"fmt"
)

// RunRepository persists the immutable event-run ledger.
type RunRepository struct {
	db *Store
}

// Runs returns a repository bound to the given store.
func (s *Store) Runs() *RunRepository { return &RunRepository{db: s} }

// Start inserts a new in-flight run row and returns its id.
func (r *RunRepository) Start(ctx context.Context, eventID, workerID string) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO event_runs (event_id, started_at, worker_id)
		VALUES (?, ?, ?)
	`, eventID, nowISO(), workerID)
	if err != nil {
		return 0, fmt.Errorf("start run for %s: %w", eventID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start run id: %w", err)
	}
	return id, nil
}

// Complete finalizes a run row with its result, output (truncated to
// maxRunOutputChars), duration and optional error.
func (r *RunRepository) Complete(ctx context.Context, runID int64, result, output string, durationMs int64, runErr error) error {
	if len(output) > maxRunOutputChars {
		output = output[:maxRunOutputChars]
	}
	var errStr *string
	if runErr != nil {
		s := runErr.Error()
		errStr = &s
	}
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE event_runs SET completed_at = ?, result = ?, output = ?, duration_ms = ?, error = ?
		WHERE id = ?
	`, nowISO(), result, output, durationMs, errStr, runID)
	if err != nil {
		return fmt.Errorf("complete run %d: %w", runID, err)
	}
	return nil
}

// ListForEvent returns the most recent runs for an event, newest first.
func (r *RunRepository) ListForEvent(ctx context.Context, eventID string, limit int) ([]EventRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []EventRun
	err := r.db.DB.SelectContext(ctx, &runs, `
		SELECT * FROM event_runs WHERE event_id = ? ORDER BY started_at DESC LIMIT ?
	`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", eventID, err)
	}
	return runs, nil
}
