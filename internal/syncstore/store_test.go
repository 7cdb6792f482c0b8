package syncstore

import (
	"context"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmindex/evmindex/internal/checkpoint"
	idb "github.com/evmindex/evmindex/internal/db"
	"github.com/evmindex/evmindex/internal/interval"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/internal/migrations"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func zeroCheckpoint() checkpoint.Checkpoint { return checkpoint.Zero }
func maxCheckpoint() checkpoint.Checkpoint  { return checkpoint.Max }

func setupStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "syncstore_test_*.db")
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

	retryCfg := &config.RetryConfig{}
	retryCfg.ApplyDefaults()

	return New(sqlDB, logger.NewNopLogger(), retryCfg)
}

func testLog(chainID, blockNumber, blockTimestamp uint64, logIndex uint32, address common.Address, topic0 common.Hash, blockHash common.Hash) Log {
	return Log{
		ChainID:        chainID,
		BlockHash:      blockHash,
		LogIndex:       logIndex,
		BlockNumber:    blockNumber,
		BlockTimestamp: blockTimestamp,
		TxHash:         common.HexToHash("0xaa"),
		Address:        address,
		Topic0:         &topic0,
		Data:           []byte{},
	}
}

func TestInsertLogFilterIntervalIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chainID := uint64(1)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")
	blockHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000b1")
	block := &Block{ChainID: chainID, Hash: blockHash, Number: 100, Timestamp: 1000}
	log1 := testLog(chainID, 100, 1000, 0, addr, topic0, blockHash)

	frag := Fragment{ChainID: chainID, Address: &addr, Topics: [4]*common.Hash{&topic0}}

	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, block, nil, []Log{log1}, interval.Interval{Start: 100, End: 100}))
	// Re-inserting the same range and log must be a no-op, not an error.
	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, block, nil, []Log{log1}, interval.Interval{Start: 100, End: 100}))

	ivs, err := s.GetLogFilterIntervals(ctx, frag)
	require.NoError(t, err)
	require.Equal(t, []interval.Interval{{Start: 100, End: 100}}, ivs)
}

func TestGetLogFilterIntervalsUnionsFragments(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chainID := uint64(1)
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	topic0 := common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b92")
	frag := Fragment{ChainID: chainID, Address: &addr, Topics: [4]*common.Hash{&topic0}}

	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, nil, nil, nil, interval.Interval{Start: 1, End: 10}))
	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, nil, nil, nil, interval.Interval{Start: 11, End: 20}))
	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, nil, nil, nil, interval.Interval{Start: 50, End: 60}))

	ivs, err := s.GetLogFilterIntervals(ctx, frag)
	require.NoError(t, err)
	require.Equal(t, []interval.Interval{{Start: 1, End: 20}, {Start: 50, End: 60}}, ivs)
}

func TestGetFilterSyncedRangeIntersectsAcrossFragments(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chainID := uint64(1)
	addr1 := common.HexToAddress("0x7777777777777777777777777777777777777777")
	addr2 := common.HexToAddress("0x8888888888888888888888888888888888888888")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")

	filter := Filter{ChainID: chainID, Addresses: []common.Address{addr1, addr2}, Topics: [4][]common.Hash{{topic0}}}
	fragments := filter.Fragments()
	require.Len(t, fragments, 2)

	// addr1's fragment is synced through 100; addr2's only through 40, and
	// separately picks up 60-80. The filter as a whole can only rely on the
	// range both fragments have covered.
	require.NoError(t, s.InsertLogFilterInterval(ctx, fragments[0], nil, nil, nil, interval.Interval{Start: 1, End: 100}))
	require.NoError(t, s.InsertLogFilterInterval(ctx, fragments[1], nil, nil, nil, interval.Interval{Start: 1, End: 40}))
	require.NoError(t, s.InsertLogFilterInterval(ctx, fragments[1], nil, nil, nil, interval.Interval{Start: 60, End: 80}))

	synced, err := s.GetFilterSyncedRange(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, []interval.Interval{{Start: 1, End: 40}, {Start: 60, End: 80}}, synced)
}

func TestGetFilterSyncedRangeEmptyWhenAnyFragmentUnsynced(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chainID := uint64(1)
	addr1 := common.HexToAddress("0x9a9a9a9a9a9a9a9a9a9a9a9a9a9a9a9a9a9a9a9a")
	addr2 := common.HexToAddress("0x9b9b9b9b9b9b9b9b9b9b9b9b9b9b9b9b9b9b9b9b")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")

	filter := Filter{ChainID: chainID, Addresses: []common.Address{addr1, addr2}, Topics: [4][]common.Hash{{topic0}}}
	fragments := filter.Fragments()
	require.Len(t, fragments, 2)

	require.NoError(t, s.InsertLogFilterInterval(ctx, fragments[0], nil, nil, nil, interval.Interval{Start: 1, End: 100}))
	// fragments[1] never synced at all.

	synced, err := s.GetFilterSyncedRange(ctx, filter)
	require.NoError(t, err)
	require.Empty(t, synced)
}

func TestDeleteRealtimeDataClampsIntervalsAndRows(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chainID := uint64(7)
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")
	frag := Fragment{ChainID: chainID, Address: &addr, Topics: [4]*common.Hash{&topic0}}

	blockHash1 := common.HexToHash("0xb1")
	blockHash2 := common.HexToHash("0xb2")
	block1 := &Block{ChainID: chainID, Hash: blockHash1, Number: 100, Timestamp: 1000}
	block2 := &Block{ChainID: chainID, Hash: blockHash2, Number: 200, Timestamp: 2000}

	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, block1, nil, []Log{testLog(chainID, 100, 1000, 0, addr, topic0, blockHash1)}, interval.Interval{Start: 1, End: 100}))
	require.NoError(t, s.InsertLogFilterInterval(ctx, frag, block2, nil, []Log{testLog(chainID, 200, 2000, 0, addr, topic0, blockHash2)}, interval.Interval{Start: 101, End: 200}))

	require.NoError(t, s.DeleteRealtimeData(ctx, chainID, 150))

	ivs, err := s.GetLogFilterIntervals(ctx, frag)
	require.NoError(t, err)
	for _, iv := range ivs {
		require.LessOrEqual(t, iv.Start, uint64(150))
		require.LessOrEqual(t, iv.End, uint64(150))
	}

	page, err := s.GetLogEvents(ctx, GetLogEventsParams{
		From:    zeroCheckpoint(),
		To:      maxCheckpoint(),
		Filters: []Filter{{ChainID: chainID, Addresses: []common.Address{addr}, Topics: [4][]common.Hash{{topic0}}}},
	})
	require.NoError(t, err)
	for _, e := range page.Events {
		require.LessOrEqual(t, e.Log.BlockNumber, uint64(150))
	}
}

func TestFactoryChildAddressPagination(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chainID := uint64(1)
	factoryAddr := common.HexToAddress("0x9999999999999999999999999999999999999a")
	eventSelector := common.HexToHash("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcd")
	factory := Factory{ChainID: chainID, Address: factoryAddr, EventSelector: eventSelector, ChildAddressLocation: "topic1"}

	child1 := common.HexToAddress("0x4444444444444444444444444444444444444444")
	child2 := common.HexToAddress("0x5555555555555555555555555555555555555555")
	child1Topic := common.BytesToHash(child1.Bytes())
	child2Topic := common.BytesToHash(child2.Bytes())

	blockHash1 := common.HexToHash("0xfb1")
	blockHash2 := common.HexToHash("0xfb2")

	log1 := testLog(chainID, 10, 100, 0, factoryAddr, eventSelector, blockHash1)
	log1.Topic1 = &child1Topic
	log2 := testLog(chainID, 20, 200, 0, factoryAddr, eventSelector, blockHash2)
	log2.Topic1 = &child2Topic

	require.NoError(t, s.InsertFactoryChildAddressLogs(ctx, factory, &Block{ChainID: chainID, Hash: blockHash1, Number: 10, Timestamp: 100}, nil, []Log{log1}))
	require.NoError(t, s.InsertFactoryChildAddressLogs(ctx, factory, &Block{ChainID: chainID, Hash: blockHash2, Number: 20, Timestamp: 200}, nil, []Log{log2}))

	page, lastBlock, err := s.GetFactoryChildAddresses(ctx, factory, 0, 1000, 1)
	require.NoError(t, err)
	require.Len(t, page.Addresses, 1)
	require.Equal(t, child1, page.Addresses[0])
	require.True(t, page.HasMore)
	require.Equal(t, uint64(10), lastBlock)

	page2, lastBlock2, err := s.GetFactoryChildAddresses(ctx, factory, lastBlock, 1000, 1)
	require.NoError(t, err)
	require.Len(t, page2.Addresses, 1)
	require.Equal(t, child2, page2.Addresses[0])
	require.False(t, page2.HasMore)
	require.Equal(t, uint64(20), lastBlock2)
}

func TestRpcRequestResultCache(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, ok, err := s.GetRpcRequestResult(ctx, 1, 100, "eth_getBlockByNumber")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.InsertRpcRequestResult(ctx, 1, 100, "eth_getBlockByNumber", `{"number":"0x64"}`))
	result, ok, err := s.GetRpcRequestResult(ctx, 1, 100, "eth_getBlockByNumber")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"number":"0x64"}`, result)
}

func TestGetLogEventsOrdersAcrossChainsAndPaginates(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	addr := common.HexToAddress("0x6666666666666666666666666666666666666666")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")
	chain1BlockHash := common.HexToHash("0xc1b1")
	chain2BlockHash := common.HexToHash("0xc2b1")

	logA := testLog(1, 50, 500, 0, addr, topic0, chain1BlockHash)
	logB := testLog(2, 60, 400, 0, addr, topic0, chain2BlockHash)

	frag1 := Fragment{ChainID: 1, Address: &addr, Topics: [4]*common.Hash{&topic0}}
	frag2 := Fragment{ChainID: 2, Address: &addr, Topics: [4]*common.Hash{&topic0}}

	require.NoError(t, s.InsertLogFilterInterval(ctx, frag1, &Block{ChainID: 1, Hash: chain1BlockHash, Number: 50, Timestamp: 500}, nil, []Log{logA}, interval.Interval{Start: 50, End: 50}))
	require.NoError(t, s.InsertLogFilterInterval(ctx, frag2, &Block{ChainID: 2, Hash: chain2BlockHash, Number: 60, Timestamp: 400}, nil, []Log{logB}, interval.Interval{Start: 60, End: 60}))

	page, err := s.GetLogEvents(ctx, GetLogEventsParams{
		From: zeroCheckpoint(),
		To:   maxCheckpoint(),
		Filters: []Filter{
			{ChainID: 1, Addresses: []common.Address{addr}, Topics: [4][]common.Hash{{topic0}}},
			{ChainID: 2, Addresses: []common.Address{addr}, Topics: [4][]common.Hash{{topic0}}},
		},
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	require.Equal(t, uint64(400), page.Events[0].Log.BlockTimestamp, "chain 2's earlier timestamp sorts first")
	require.True(t, page.HasNextPage)
	require.NotNil(t, page.LastCheckpoint)
	require.Equal(t, uint64(500), page.LastCheckpoint.BlockTimestamp, "LastCheckpoint covers the whole window, not just the page")
}
