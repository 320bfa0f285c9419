package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := New(Config{Driver: DriverSQLite, DSN: path, Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "test", db.Name())
	assert.Equal(t, DriverSQLite, db.Driver())
	assert.FileExists(t, path)
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle", DSN: "x", Name: "test"})
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := New(Config{DSN: filepath.Join(t.TempDir(), "m.db"), Name: "matches"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	for _, table := range []string{"matches", "bets", "cache_entries"} {
		var name string
		err := db.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_PartialUniqueIndex(t *testing.T) {
	db, err := New(Config{DSN: filepath.Join(t.TempDir(), "u.db"), Name: "matches"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	insert := "INSERT INTO matches (external_id, is_deleted, created_at, updated_at) VALUES (?, ?, 0, 0)"

	_, err = db.Conn().Exec(insert, "100", 0)
	require.NoError(t, err)

	_, err = db.Conn().Exec(insert, "100", 0)
	assert.Error(t, err, "second live record with the same external id must be rejected")

	_, err = db.Conn().Exec(insert, "100", 1)
	assert.NoError(t, err, "soft-deleted history rows may share the external id")
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a(x);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a(x)", stmts[1])
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	db, err := New(Config{DSN: filepath.Join(t.TempDir(), "tx.db"), Name: "matches"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO matches (external_id, created_at, updated_at) VALUES ('p', 0, 0)")
		require.NoError(t, err)
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM matches").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestHealthCheck(t *testing.T) {
	db, err := New(Config{DSN: filepath.Join(t.TempDir(), "h.db"), Name: "matches"})
	require.NoError(t, err)

	assert.NoError(t, db.HealthCheck(context.Background()))

	require.NoError(t, db.Close())
	err = db.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches")
}
