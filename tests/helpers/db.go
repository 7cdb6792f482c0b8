package helpers

import (
	"database/sql"
	"path"
	"testing"

	"github.com/evmindex/evmindex/internal/db"
	"github.com/evmindex/evmindex/internal/migrations"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

// NewTestDB creates a new temporary SQLite database for testing purposes
func NewTestDB(t *testing.T, dbName string) *sql.DB {
	t.Helper()

	tmpDBPath := path.Join(t.TempDir(), dbName)

	require.NoError(t, migrations.RunMigrations(tmpDBPath))

	dbConfig := config.DatabaseConfig{Path: tmpDBPath}
	dbConfig.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	return database
}
