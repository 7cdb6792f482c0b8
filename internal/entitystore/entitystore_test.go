package entitystore

import (
	"context"
	"os"
	"testing"

	"github.com/evmindex/evmindex/internal/checkpoint"
	idb "github.com/evmindex/evmindex/internal/db"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/internal/migrations"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "entitystore_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	dbPath := tmpFile.Name()

	t.Cleanup(func() { os.Remove(dbPath) })

	cfg := config.DatabaseConfig{Path: dbPath}
	cfg.ApplyDefaults()

	sqlDB, err := idb.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, idb.RunMigrationsDB(logger.NewNopLogger(), sqlDB, migrations.All("")))

	return New(sqlDB, logger.NewNopLogger())
}

type balance struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

func TestCreateThenFindUnique(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	c := checkpoint.New(10, 1, 100, 0)

	require.NoError(t, s.Create(ctx, c, "Balance", "alice", balance{Owner: "alice", Amount: 100}))

	var got balance
	ok, err := s.FindUnique(ctx, "Balance", "alice", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), got.Amount)
}

func TestUpdateSupersedesPreviousRevision(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, checkpoint.New(10, 1, 100, 0), "Balance", "alice", balance{Owner: "alice", Amount: 100}))
	require.NoError(t, s.Update(ctx, checkpoint.New(10, 1, 101, 0), "Balance", "alice", balance{Owner: "alice", Amount: 150}))

	var got balance
	ok, err := s.FindUnique(ctx, "Balance", "alice", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(150), got.Amount)
}

func TestDeleteHidesEntity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, checkpoint.New(10, 1, 100, 0), "Balance", "alice", balance{Owner: "alice", Amount: 100}))
	require.NoError(t, s.Delete(ctx, checkpoint.New(10, 1, 101, 0), "Balance", "alice"))

	_, err := s.FindUnique(ctx, "Balance", "alice", &balance{})
	require.NoError(t, err)

	ok, err := s.FindUnique(ctx, "Balance", "alice", &balance{})
	require.NoError(t, err)
	require.False(t, ok)
}

// TestRevertRestoresPriorView covers the reorg-revert entity-store behavior:
// writes up to checkpoint c survive a Revert(c) and writes after it do not.
func TestRevertRestoresPriorView(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, checkpoint.New(50, 1, 500, 0), "Balance", "alice", balance{Owner: "alice", Amount: 100}))
	require.NoError(t, s.Update(ctx, checkpoint.New(100, 1, 1000, 5), "Balance", "alice", balance{Owner: "alice", Amount: 999}))

	safe := checkpoint.New(90, 1, 900, 0)
	require.NoError(t, s.Revert(ctx, safe))

	var got balance
	ok, err := s.FindUnique(ctx, "Balance", "alice", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), got.Amount, "update after the safe checkpoint must be undone")
}

func TestFindManyListsCurrentRevisions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, checkpoint.New(10, 1, 100, 0), "Balance", "alice", balance{Owner: "alice", Amount: 1}))
	require.NoError(t, s.Create(ctx, checkpoint.New(10, 1, 100, 1), "Balance", "bob", balance{Owner: "bob", Amount: 2}))

	rows, err := s.FindMany(ctx, "Balance")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
