package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyExecutesAllMigrations(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Apply(context.Background(), db))

	for _, table := range []string{
		"schema_version", "events", "job_queue", "event_runs",
		"bus_events", "ops_health_snapshots", "ops_alerts",
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		require.NoErrorf(t, err, "table %s should exist after migration", table)
	}

	var version int
	require.NoError(t, db.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	require.Equal(t, 1, version)
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Apply(context.Background(), db))
	require.NoError(t, Apply(context.Background(), db), "re-applying the same migrations must not error")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count))
	require.Equal(t, 1, count, "schema_version must not accumulate duplicate rows on re-apply")
}
