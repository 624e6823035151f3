package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_CreatesDataDirectory(t *testing.T) {
	conn := filepath.Join(t.TempDir(), "nested", "data", "kickstart.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	database, err := Init("sqlite", conn)
	require.NoError(t, err)
	defer func() { _ = Close(database) }()

	var mode string
	require.NoError(t, database.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestMigrations_UpAndDown(t *testing.T) {
	database, err := Init("sqlite", filepath.Join(t.TempDir(), "kickstart.db"))
	require.NoError(t, err)
	defer func() { _ = Close(database) }()

	require.NoError(t, RunMigrations(database.DB, "sqlite"))
	// Applying again is a no-op.
	require.NoError(t, RunMigrations(database.DB, "sqlite"))

	var count int
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM artifacts"))
	assert.Zero(t, count)

	require.NoError(t, MigrateDown(database.DB, "sqlite"))
	err = database.Get(&count, "SELECT COUNT(*) FROM artifacts")
	assert.Error(t, err, "artifacts table should be dropped")
}

func TestMigrations_UnknownDriver(t *testing.T) {
	database, err := Init("sqlite", filepath.Join(t.TempDir(), "kickstart.db"))
	require.NoError(t, err)
	defer func() { _ = Close(database) }()

	assert.ErrorContains(t, RunMigrations(database.DB, "mysql"), "unsupported database driver")
}
