// Package migrations embeds the SQL schema migrations for the indexing
// engine's SQLite store and runs them through internal/db's sql-migrate
// wrapper.
package migrations

import (
	_ "embed"

	"github.com/evmindex/evmindex/internal/db"
)

//go:embed 001_syncstore_chaindata_1.sql
var mig001 string

//go:embed 002_syncstore_intervals_1.sql
var mig002 string

//go:embed 003_syncstore_rpc_cache_1.sql
var mig003 string

//go:embed 004_scheduler_function_metadata_1.sql
var mig004 string

//go:embed 005_entitystore_rows_1.sql
var mig005 string

//go:embed 006_reorg_block_hashes_1.sql
var mig006 string

// All returns the ordered migration set, ready to pass to db.RunMigrationsDB
// once a Prefix is assigned per migration for multi-instance isolation.
func All(prefix string) []db.Migration {
	return []db.Migration{
		{ID: "001_syncstore_chaindata_1.sql", SQL: mig001, Prefix: prefix},
		{ID: "002_syncstore_intervals_1.sql", SQL: mig002, Prefix: prefix},
		{ID: "003_syncstore_rpc_cache_1.sql", SQL: mig003, Prefix: prefix},
		{ID: "004_scheduler_function_metadata_1.sql", SQL: mig004, Prefix: prefix},
		{ID: "005_entitystore_rows_1.sql", SQL: mig005, Prefix: prefix},
		{ID: "006_reorg_block_hashes_1.sql", SQL: mig006, Prefix: prefix},
	}
}

// RunMigrations applies all migrations to the SQLite database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, All(""))
}
