package gateway

import (
	"testing"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/stretchr/testify/require"
)

func TestSingleChainHistoricalAdvance(t *testing.T) {
	g := New([]uint64{1})

	c := checkpoint.New(100, 1, 10, 0)
	got, advanced := g.HandleNewHistoricalCheckpoint(c)
	require.True(t, advanced)
	require.Equal(t, c, got)
	require.Equal(t, c, g.Checkpoint())

	// A checkpoint that does not strictly advance must not re-emit.
	_, advanced = g.HandleNewHistoricalCheckpoint(c)
	require.False(t, advanced)

	older := checkpoint.New(50, 1, 5, 0)
	_, advanced = g.HandleNewHistoricalCheckpoint(older)
	require.False(t, advanced)
	require.Equal(t, c, g.Checkpoint())
}

func TestTwoChainGlobalCheckpointIsMinimum(t *testing.T) {
	g := New([]uint64{1, 2})

	// Chain 1 races ahead; the global checkpoint must not pass chain 2's
	// lagging progress.
	_, advanced := g.HandleNewHistoricalCheckpoint(checkpoint.New(500, 1, 50, 0))
	require.False(t, advanced, "global checkpoint stays at zero until every chain reports in")
	require.Equal(t, checkpoint.Zero, g.Checkpoint())

	c2 := checkpoint.New(200, 2, 20, 0)
	got, advanced := g.HandleNewHistoricalCheckpoint(c2)
	require.True(t, advanced)
	require.Equal(t, c2, got, "global checkpoint is the minimum across chains")

	c2b := checkpoint.New(300, 2, 30, 0)
	got, advanced = g.HandleNewHistoricalCheckpoint(c2b)
	require.True(t, advanced)
	require.Equal(t, c2b, got)
}

func TestRealtimeGatedByHistoricalCompleteness(t *testing.T) {
	g := New([]uint64{1})

	historical := checkpoint.New(100, 1, 10, 0)
	_, advanced := g.HandleNewHistoricalCheckpoint(historical)
	require.True(t, advanced)

	// Realtime progress must not move the global checkpoint past historical
	// while the chain's historical backfill is still incomplete.
	realtime := checkpoint.New(900, 1, 90, 0)
	_, advanced = g.HandleNewRealtimeCheckpoint(realtime)
	require.False(t, advanced)
	require.Equal(t, historical, g.Checkpoint())

	got, advanced := g.HandleHistoricalSyncComplete(1)
	require.True(t, advanced, "realtime progress now counts once historical sync completes")
	require.Equal(t, realtime, got)
}

func TestFinalityCheckpointIsMinimumAcrossChains(t *testing.T) {
	g := New([]uint64{1, 2})

	_, advanced := g.HandleNewFinalityCheckpoint(checkpoint.New(100, 1, 10, 0))
	require.False(t, advanced)

	f2 := checkpoint.New(50, 2, 5, 0)
	got, advanced := g.HandleNewFinalityCheckpoint(f2)
	require.True(t, advanced)
	require.Equal(t, f2, got)
	require.Equal(t, f2, g.FinalityCheckpoint())
}

func TestHandleReorgIsPurePassthrough(t *testing.T) {
	g := New([]uint64{1})
	g.HandleNewHistoricalCheckpoint(checkpoint.New(100, 1, 10, 0))

	safe := checkpoint.New(50, 1, 5, 0)
	event := g.HandleReorg(safe)
	require.Equal(t, safe, event.SafeCheckpoint)

	// The gateway holds no reorg state of its own: checkpoints are
	// untouched until the caller separately rewinds via ResetCheckpoints.
	require.Equal(t, checkpoint.New(100, 1, 10, 0), g.Checkpoint())
}

func TestResetCheckpointsClearsChainAndGlobalState(t *testing.T) {
	g := New([]uint64{1, 2})

	g.HandleNewHistoricalCheckpoint(checkpoint.New(100, 1, 10, 0))
	g.HandleHistoricalSyncComplete(1)
	g.HandleNewHistoricalCheckpoint(checkpoint.New(100, 2, 10, 0))
	g.HandleHistoricalSyncComplete(2)
	require.Equal(t, checkpoint.New(100, 1, 10, 0), g.Checkpoint())

	g.ResetCheckpoints(1)
	require.Equal(t, checkpoint.Zero, g.Checkpoint())

	// Chain 1 must re-earn historical completeness; a stale realtime
	// checkpoint from before the reset must not count.
	_, advanced := g.HandleNewRealtimeCheckpoint(checkpoint.New(200, 1, 20, 0))
	require.False(t, advanced)
}
