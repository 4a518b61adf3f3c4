package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// JobRepository persists and claims queue rows.
type JobRepository struct {
	db *Store
}

// Jobs returns a repository bound to the given store.
func (s *Store) Jobs() *JobRepository { return &JobRepository{db: s} }

// Enqueue inserts a queued job unless concurrency_key is set and any row with
// that key is already in {queued, running}, in which case it returns
// (0, false, nil) — a silent dedup hit.
func (r *JobRepository) Enqueue(ctx context.Context, j Job) (int64, bool, error) {
	if j.ConcurrencyKey != nil && *j.ConcurrencyKey != "" {
		var count int
		err := r.db.DB.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM job_queue
			WHERE concurrency_key = ? AND status IN (?, ?)
		`, *j.ConcurrencyKey, JobStatusQueued, JobStatusRunning)
		if err != nil {
			return 0, false, fmt.Errorf("check concurrency key: %w", err)
		}
		if count > 0 {
			return 0, false, nil
		}
	}

	if j.QueuedAt == "" {
		j.QueuedAt = nowISO()
	}
	if j.Status == "" {
		j.Status = JobStatusQueued
	}

	res, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO job_queue (event_id, priority, concurrency_key, action_type, action_config, status, source, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.EventID, j.Priority, j.ConcurrencyKey, j.ActionType, j.ActionConfig, j.Status, j.Source, j.QueuedAt)
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job id: %w", err)
	}
	return id, true, nil
}

// Dequeue atomically claims the single highest-priority eligible queued row
// whose concurrency_key (if any) is not currently running, and marks it
// running under the given worker. Returns (Job{}, false, nil) if nothing is
// eligible. The selection and the transition happen in one statement so two
// concurrent callers cannot claim the same row.
func (r *JobRepository) Dequeue(ctx context.Context, workerID string) (Job, bool, error) {
	now := nowISO()
	row := r.db.DB.QueryRowxContext(ctx, `
		UPDATE job_queue
		SET status = ?, worker_id = ?, started_at = ?
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = ?
			  AND (
			      concurrency_key IS NULL
			      OR concurrency_key NOT IN (
			          SELECT concurrency_key FROM job_queue
			          WHERE status = ? AND concurrency_key IS NOT NULL
			      )
			  )
			ORDER BY priority ASC, queued_at ASC
			LIMIT 1
		)
		RETURNING *
	`, JobStatusRunning, workerID, now, JobStatusQueued, JobStatusRunning)

	var j Job
	if err := row.StructScan(&j); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("dequeue job: %w", err)
	}
	return j, true, nil
}

// CompleteJob transitions a running job to its terminal state, stamping
// completed_at and recording the result or error.
func (r *JobRepository) CompleteJob(ctx context.Context, id int64, result string, jobErr error) error {
	status := JobStatusCompleted
	var errStr *string
	if jobErr != nil {
		status = JobStatusFailed
		s := jobErr.Error()
		errStr = &s
	}
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE job_queue SET status = ?, completed_at = ?, result = ?, error = ?
		WHERE id = ?
	`, status, nowISO(), result, errStr, id)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// GetQueueStatus returns per-status counts and the 20 most recent rows.
func (r *JobRepository) GetQueueStatus(ctx context.Context) (QueueStatus, error) {
	rows, err := r.db.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_queue GROUP BY status`)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queue status counts: %w", err)
	}
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return QueueStatus{}, fmt.Errorf("scan queue status count: %w", err)
		}
		counts[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return QueueStatus{}, fmt.Errorf("queue status rows: %w", err)
	}

	var recent []Job
	if err := r.db.DB.SelectContext(ctx, &recent, `
		SELECT * FROM job_queue ORDER BY queued_at DESC LIMIT 20
	`); err != nil {
		return QueueStatus{}, fmt.Errorf("recent jobs: %w", err)
	}

	return QueueStatus{Counts: counts, RecentJobs: recent}, nil
}

// PendingOlderThan returns the count of queued jobs whose queued_at is older
// than the given ISO timestamp — used by the ops monitor's backlog watch.
func (r *JobRepository) PendingOlderThan(ctx context.Context, cutoffISO string) (int, error) {
	var count int
	err := r.db.DB.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM job_queue WHERE status = ? AND queued_at < ?
	`, JobStatusQueued, cutoffISO)
	if err != nil {
		return 0, fmt.Errorf("pending backlog count: %w", err)
	}
	return count, nil
}

// FailedSince returns the count of jobs that failed at or after the given
// ISO timestamp — used by the ops monitor's failure-rate watch.
func (r *JobRepository) FailedSince(ctx context.Context, sinceISO string) (int, error) {
	var count int
	err := r.db.DB.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM job_queue WHERE status = ? AND completed_at >= ?
	`, JobStatusFailed, sinceISO)
	if err != nil {
		return 0, fmt.Errorf("failed-since count: %w", err)
	}
	return count, nil
}

// StaleRunning returns running jobs whose started_at is older than the given
// ISO timestamp — candidates for the ops monitor's stale-job sweep.
func (r *JobRepository) StaleRunning(ctx context.Context, cutoffISO string) ([]Job, error) {
	var jobs []Job
	err := r.db.DB.SelectContext(ctx, &jobs, `
		SELECT * FROM job_queue WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
	`, JobStatusRunning, cutoffISO)
	if err != nil {
		return nil, fmt.Errorf("stale running jobs: %w", err)
	}
	return jobs, nil
}

// ForceFail marks a job failed outright, used by the ops monitor to reap
// stale running jobs.
func (r *JobRepository) ForceFail(ctx context.Context, id int64, reason string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE job_queue SET status = ?, completed_at = ?, error = ? WHERE id = ?
	`, JobStatusFailed, nowISO(), reason, id)
	if err != nil {
		return fmt.Errorf("force fail job %d: %w", id, err)
	}
	return nil
}
