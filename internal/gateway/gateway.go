// Package gateway fuses per-chain historical/realtime/finality progress into
// one monotone global checkpoint that the scheduler can treat as a single
// cross-chain clock.
package gateway

import (
	"sync"

	"github.com/evmindex/evmindex/internal/checkpoint"
)

// chainState is one chain's view of its own progress. All fields default to
// checkpoint.Zero / false, matching a chain that has never reported in.
type chainState struct {
	historical           checkpoint.Checkpoint
	realtime             checkpoint.Checkpoint
	finality             checkpoint.Checkpoint
	isHistoricalComplete bool
}

// perChainBest is the contribution of one chain to the global checkpoint:
// once historical sync has caught up, realtime progress counts too; until
// then only historical progress is trusted, so a fast realtime feed can
// never let the global checkpoint run ahead of a chain still backfilling.
func (s *chainState) perChainBest() checkpoint.Checkpoint {
	if s.isHistoricalComplete {
		return checkpoint.Max2(s.historical, s.realtime)
	}
	return s.historical
}

// ReorgEvent is emitted verbatim from HandleReorg; the gateway holds no
// reorg-related state of its own, it only forwards the signal.
type ReorgEvent struct {
	SafeCheckpoint checkpoint.Checkpoint
}

// Gateway reduces per-chain checkpoint reports into one global checkpoint
// and one global finality checkpoint. It is a pure in-memory reducer: it has
// no database or RPC surface, and every method is synchronous.
type Gateway struct {
	mu     sync.Mutex
	chains map[uint64]*chainState

	checkpoint         checkpoint.Checkpoint
	finalityCheckpoint checkpoint.Checkpoint
}

// New builds a Gateway tracking exactly the given chain ids. Pre-registering
// the chain set matters: the global reducer is a min over all known chains,
// so a chain that hasn't reported in yet must still participate (as
// checkpoint.Zero) rather than being silently excluded from the minimum.
func New(chainIDs []uint64) *Gateway {
	chains := make(map[uint64]*chainState, len(chainIDs))
	for _, id := range chainIDs {
		chains[id] = &chainState{}
	}
	return &Gateway{chains: chains}
}

func (g *Gateway) chainState(chainID uint64) *chainState {
	cs, ok := g.chains[chainID]
	if !ok {
		cs = &chainState{}
		g.chains[chainID] = cs
	}
	return cs
}

// Checkpoint returns the current global checkpoint.
func (g *Gateway) Checkpoint() checkpoint.Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkpoint
}

// FinalityCheckpoint returns the current global finality checkpoint.
func (g *Gateway) FinalityCheckpoint() checkpoint.Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalityCheckpoint
}

// recomputeCheckpoint applies the perChainBest/min reducer. Caller must hold
// g.mu. Returns the new global checkpoint and whether it strictly advanced.
func (g *Gateway) recomputeCheckpoint() (checkpoint.Checkpoint, bool) {
	next := checkpoint.Max
	for _, cs := range g.chains {
		next = checkpoint.Min(next, cs.perChainBest())
	}
	if len(g.chains) == 0 {
		next = checkpoint.Zero
	}

	if checkpoint.Less(g.checkpoint, next) {
		g.checkpoint = next
		return next, true
	}
	return g.checkpoint, false
}

// recomputeFinalityCheckpoint is the same min reducer over finality
// checkpoints only; finality never depends on isHistoricalComplete since a
// finalized block is finalized regardless of which path observed it.
func (g *Gateway) recomputeFinalityCheckpoint() (checkpoint.Checkpoint, bool) {
	next := checkpoint.Max
	for _, cs := range g.chains {
		next = checkpoint.Min(next, cs.finality)
	}
	if len(g.chains) == 0 {
		next = checkpoint.Zero
	}

	if checkpoint.Less(g.finalityCheckpoint, next) {
		g.finalityCheckpoint = next
		return next, true
	}
	return g.finalityCheckpoint, false
}

// HandleNewHistoricalCheckpoint records chain progress from the historical
// collector. Returns the global checkpoint and whether it strictly advanced.
func (g *Gateway) HandleNewHistoricalCheckpoint(c checkpoint.Checkpoint) (checkpoint.Checkpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.chainState(c.ChainID)
	if checkpoint.Less(cs.historical, c) {
		cs.historical = c
	}
	return g.recomputeCheckpoint()
}

// HandleHistoricalSyncComplete marks a chain's historical backfill as
// caught up, letting its realtime progress start counting toward the
// global checkpoint.
func (g *Gateway) HandleHistoricalSyncComplete(chainID uint64) (checkpoint.Checkpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.chainState(chainID).isHistoricalComplete = true
	return g.recomputeCheckpoint()
}

// HandleNewRealtimeCheckpoint records chain progress from the realtime
// collector. It only counts toward the global checkpoint once this chain has
// completed its historical sync; other chains contribute their own progress
// to the minimum independently.
func (g *Gateway) HandleNewRealtimeCheckpoint(c checkpoint.Checkpoint) (checkpoint.Checkpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.chainState(c.ChainID)
	if checkpoint.Less(cs.realtime, c) {
		cs.realtime = c
	}
	return g.recomputeCheckpoint()
}

// HandleNewFinalityCheckpoint records a chain's finality progress and
// recomputes the global finality checkpoint.
func (g *Gateway) HandleNewFinalityCheckpoint(c checkpoint.Checkpoint) (checkpoint.Checkpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.chainState(c.ChainID)
	if checkpoint.Less(cs.finality, c) {
		cs.finality = c
	}
	return g.recomputeFinalityCheckpoint()
}

// HandleReorg is a pure passthrough: the gateway holds no state that a
// reorg would invalidate, so it just packages the safe checkpoint for the
// caller to act on (typically rewinding the scheduler and sync store).
func (g *Gateway) HandleReorg(safeCheckpoint checkpoint.Checkpoint) ReorgEvent {
	return ReorgEvent{SafeCheckpoint: safeCheckpoint}
}

// ResetCheckpoints clears all progress for a chain, dropping the global
// checkpoint and global finality checkpoint back to zero until every
// tracked chain reports in again.
func (g *Gateway) ResetCheckpoints(chainID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.chains[chainID] = &chainState{}
	g.checkpoint = checkpoint.Zero
	g.finalityCheckpoint = checkpoint.Zero
}
