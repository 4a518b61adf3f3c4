package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver with database/sql

	"github.com/Systemsaholic/nexaas/internal/migrations"
)

// Store wraps the single long-lived database handle shared by Engine, Queue,
// Workers and Monitor. SQLite allows only one writer at a time, so the pool
// is pinned to a single connection: every caller serialises through it.
type Store struct {
	DB *sqlx.DB
}

// Open establishes the SQLite connection at path, enables WAL journaling and
// foreign keys, and applies the embedded schema. path may be ":memory:" for
// tests. The returned Store must be closed by the caller.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalidInput)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous = NORMAL: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrations.Apply(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping verifies the connection is alive; used by the ops monitor's db_healthy check.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
