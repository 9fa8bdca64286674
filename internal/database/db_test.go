package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := New(path, profile)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewCreatesDatabase(t *testing.T) {
	db := openTestDB(t, ProfileStandard)

	assert.Equal(t, "test", db.Name())
	require.NoError(t, db.Conn().Ping())

	_, err := db.Conn().Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO t (v) VALUES ('x')")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWALModeEnabled(t *testing.T) {
	db := openTestDB(t, ProfileStandard)

	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestForeignKeysEnabled(t *testing.T) {
	for _, profile := range []DatabaseProfile{ProfileStandard, ProfileCache} {
		db := openTestDB(t, profile)
		var fk int
		require.NoError(t, db.Conn().QueryRow("PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk)
	}
}

func TestCheckpoint(t *testing.T) {
	db := openTestDB(t, ProfileStandard)

	_, err := db.Conn().Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	assert.NoError(t, db.Checkpoint())
}
