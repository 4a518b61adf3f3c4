package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// HealthRepository persists ops monitor snapshots and alerts.
type HealthRepository struct {
	db *Store
}

// Health returns a repository bound to the given store.
func (s *Store) Health() *HealthRepository { return &HealthRepository{db: s} }

// RecordSnapshot writes a periodic health snapshot row.
func (r *HealthRepository) RecordSnapshot(ctx context.Context, snap HealthSnapshot) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO ops_health_snapshots (
			engine_healthy, db_healthy, active_workers, pending_jobs, failed_jobs_last_hour, locks_cleared, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snap.EngineHealthy, snap.DBHealthy, snap.ActiveWorkers, snap.PendingJobs, snap.FailedJobsLastHour, snap.LocksCleared, nowISO())
	if err != nil {
		return 0, fmt.Errorf("record health snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record health snapshot id: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recent health snapshot, if any.
func (r *HealthRepository) LatestSnapshot(ctx context.Context) (HealthSnapshot, bool, error) {
	var snap HealthSnapshot
	err := r.db.DB.GetContext(ctx, &snap, `
		SELECT * FROM ops_health_snapshots ORDER BY created_at DESC LIMIT 1
	`)
	if err != nil {
		if isNoRows(err) {
			return HealthSnapshot{}, false, nil
		}
		return HealthSnapshot{}, false, fmt.Errorf("latest health snapshot: %w", err)
	}
	return snap, true, nil
}

// RaiseAlert records an alert. details is marshaled to JSON; pass nil for none.
func (r *HealthRepository) RaiseAlert(ctx context.Context, severity, category, message string, autoHealed bool, details any) (int64, error) {
	detailsJSON := "{}"
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return 0, fmt.Errorf("marshal alert details: %w", err)
		}
		detailsJSON = string(b)
	}
	res, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO ops_alerts (severity, category, message, auto_healed, acknowledged, details, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, severity, category, message, autoHealed, detailsJSON, nowISO())
	if err != nil {
		return 0, fmt.Errorf("raise alert %s/%s: %w", severity, category, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("raise alert id: %w", err)
	}
	return id, nil
}

// RecentAlerts returns the most recent alerts, optionally filtered by severity.
func (r *HealthRepository) RecentAlerts(ctx context.Context, severity string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []Alert
	var err error
	if severity == "" {
		err = r.db.DB.SelectContext(ctx, &alerts, `
			SELECT * FROM ops_alerts ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		err = r.db.DB.SelectContext(ctx, &alerts, `
			SELECT * FROM ops_alerts WHERE severity = ? ORDER BY created_at DESC LIMIT ?
		`, severity, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks an alert as acknowledged.
func (r *HealthRepository) Acknowledge(ctx context.Context, id int64) error {
	res, err := r.db.DB.ExecContext(ctx, `UPDATE ops_alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NewNotFoundError("alert", fmt.Sprintf("%d", id))
	}
	return nil
}
