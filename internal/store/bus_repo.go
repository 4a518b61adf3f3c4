package store

import (
	"context"
	"fmt"
)

// BusRepository journals bus events for durability and replay.
type BusRepository struct {
	db *Store
}

// Bus returns a repository bound to the given store.
func (s *Store) Bus() *BusRepository { return &BusRepository{db: s} }

// Append persists a bus event to the journal.
func (r *BusRepository) Append(ctx context.Context, evtType string, source *string, data string) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO bus_events (type, source, data, created_at) VALUES (?, ?, ?, ?)
	`, evtType, source, data, nowISO())
	if err != nil {
		return 0, fmt.Errorf("journal bus event %s: %w", evtType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal bus event id: %w", err)
	}
	return id, nil
}

// Recent returns the most recent journaled events, optionally filtered by type.
func (r *BusRepository) Recent(ctx context.Context, evtType string, limit int) ([]BusEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []BusEvent
	var err error
	if evtType == "" {
		err = r.db.DB.SelectContext(ctx, &events, `
			SELECT * FROM bus_events ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		err = r.db.DB.SelectContext(ctx, &events, `
			SELECT * FROM bus_events WHERE type = ? ORDER BY created_at DESC LIMIT ?
		`, evtType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recent bus events: %w", err)
	}
	return events, nil
}
