// Package collector drives one chain's historical backfill and realtime
// tailing, feeding internal/syncstore with raw chain data and
// internal/gateway with the resulting checkpoints. One Collector runs per
// configured chain; all collectors feed the same shared Gateway.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/gateway"
	"github.com/evmindex/evmindex/internal/interval"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/internal/syncstore"
	itypes "github.com/evmindex/evmindex/internal/types"
	pkgreorg "github.com/evmindex/evmindex/pkg/reorg"
	pkgrpc "github.com/evmindex/evmindex/pkg/rpc"
)

// pollInterval is the wait between live-tip checks once a chain has caught
// up to its finality tip.
const pollInterval = 12 * time.Second

// Config describes one chain's worth of sources for a Collector.
type Config struct {
	ChainID      uint64
	ChunkSize    uint64
	Finality     itypes.BlockFinality
	FinalizedLag uint64
	StartBlock   uint64

	Filters   []syncstore.Filter
	Factories []syncstore.FactorySource
}

// Collector backfills and then tails one chain, reporting progress to a
// shared Gateway and persisting raw chain data through a shared Store.
type Collector struct {
	cfg           Config
	rpc           pkgrpc.EthClient
	ss            *syncstore.Store
	gw            *gateway.Gateway
	reorgDetector pkgreorg.Detector
	log           *logger.Logger
}

// New builds a Collector for one chain. rpcClient, store and gw are shared
// with every other chain's Collector; reorgDetector is scoped to this chain.
func New(cfg Config, rpcClient pkgrpc.EthClient, store *syncstore.Store, gw *gateway.Gateway, reorgDetector pkgreorg.Detector, log *logger.Logger) *Collector {
	return &Collector{
		cfg:           cfg,
		rpc:           rpcClient,
		ss:            store,
		gw:            gw,
		reorgDetector: reorgDetector,
		log:           log.WithComponent(fmt.Sprintf("collector-%d", cfg.ChainID)),
	}
}

// Run backfills from cfg.StartBlock to the chain's finality tip, then tails
// new blocks as they finalize, until ctx is canceled. A detected reorg is
// reported through onReorg and the collector re-verifies from the reported
// safe checkpoint.
func (c *Collector) Run(ctx context.Context, onReorg func(checkpoint.Checkpoint)) error {
	go c.pollFinality(ctx)

	next, err := c.resumeStartBlock(ctx)
	if err != nil {
		return err
	}
	if next > c.cfg.StartBlock {
		c.log.Infow("resuming backfill from already-synced checkpoint",
			"chain_id", c.cfg.ChainID, "configured_start", c.cfg.StartBlock, "resume_block", next)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		finalized, err := c.finalizedBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("collector: chain %d: get finality tip: %w", c.cfg.ChainID, err)
		}

		if next > finalized {
			c.gw.HandleHistoricalSyncComplete(c.cfg.ChainID)
			if err := c.tailLive(ctx, next, onReorg); err != nil {
				return err
			}
			return nil
		}

		to := min(next+c.cfg.ChunkSize-1, finalized)
		newNext, safe, reorg, err := c.syncRange(ctx, next, to)
		if err != nil {
			return err
		}
		if reorg {
			onReorg(safe)
			next = safe.BlockNumber + 1
			continue
		}
		next = newNext
	}
}

// tailLive repeatedly fetches whatever has newly finalized since next, one
// chunk at a time, until ctx is canceled.
func (c *Collector) tailLive(ctx context.Context, next uint64, onReorg func(checkpoint.Checkpoint)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		finalized, err := c.finalizedBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("collector: chain %d: get finality tip: %w", c.cfg.ChainID, err)
		}

		if next > finalized {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
				continue
			}
		}

		to := min(next+c.cfg.ChunkSize-1, finalized)
		newNext, safe, reorg, err := c.syncRange(ctx, next, to)
		if err != nil {
			return err
		}
		if reorg {
			onReorg(safe)
			next = safe.BlockNumber + 1
			continue
		}
		next = newNext
	}
}

// syncRange fetches and persists [from,to], verifying the range against
// recorded chain history through reorgDetector before anything is written.
// On a detected reorg it returns reorg=true and the last still-trustworthy
// checkpoint instead of erroring.
func (c *Collector) syncRange(ctx context.Context, from, to uint64) (next uint64, safe checkpoint.Checkpoint, reorg bool, err error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: c.unionAddresses(),
	}

	logs, err := c.rpc.GetLogs(ctx, query)
	if err != nil {
		return 0, checkpoint.Zero, false, fmt.Errorf("collector: chain %d: get logs %d-%d: %w", c.cfg.ChainID, from, to, err)
	}

	verified, err := c.reorgDetector.VerifyAndRecordBlocks(ctx, logs, from, to)
	if err != nil {
		var reorgErr *pkgreorg.ReorgDetectedError
		if errors.As(err, &reorgErr) {
			return c.handleDetectedReorg(ctx, reorgErr)
		}
		return 0, checkpoint.Zero, false, fmt.Errorf("collector: chain %d: verify blocks %d-%d: %w", c.cfg.ChainID, from, to, err)
	}

	// A range entirely at or below the detector's own finalized snapshot is
	// returned with no headers since it was already recorded on a prior
	// call; fall back to fetching to's header directly for persistence.
	var toHeader *types.Header
	if len(verified) > 0 {
		toHeader = verified[len(verified)-1]
	} else {
		toHeader, err = c.rpc.GetBlockHeader(ctx, to)
		if err != nil {
			return 0, checkpoint.Zero, false, fmt.Errorf("collector: chain %d: get header %d: %w", c.cfg.ChainID, to, err)
		}
	}

	if err := c.persistDirect(ctx, from, to, toHeader, logs); err != nil {
		return 0, checkpoint.Zero, false, err
	}
	if err := c.persistFactories(ctx, from, to, toHeader, logs); err != nil {
		return 0, checkpoint.Zero, false, err
	}

	cp := checkpoint.New(toHeader.Time, c.cfg.ChainID, to, 0)
	c.gw.HandleNewHistoricalCheckpoint(cp)
	return to + 1, checkpoint.Zero, false, nil
}

// handleDetectedReorg translates a reorg into the safe checkpoint the caller
// should resume from: one block before the first block the detector flagged
// as no longer matching recorded history.
func (c *Collector) handleDetectedReorg(ctx context.Context, reorgErr *pkgreorg.ReorgDetectedError) (uint64, checkpoint.Checkpoint, bool, error) {
	c.log.Warnw("reorg detected", "chain_id", c.cfg.ChainID, "first_reorg_block", reorgErr.FirstReorgBlock, "details", reorgErr.Details)

	if reorgErr.FirstReorgBlock == 0 {
		return 0, checkpoint.Zero, false, fmt.Errorf("collector: chain %d: reorg at genesis block, cannot recover: %w", c.cfg.ChainID, reorgErr)
	}
	safeBlock := reorgErr.FirstReorgBlock - 1

	header, err := c.rpc.GetBlockHeader(ctx, safeBlock)
	if err != nil {
		return 0, checkpoint.Zero, false, fmt.Errorf("collector: chain %d: get safe header %d: %w", c.cfg.ChainID, safeBlock, err)
	}

	safe := checkpoint.New(header.Time, c.cfg.ChainID, safeBlock, ^uint32(0))
	return 0, safe, true, nil
}

func (c *Collector) persistDirect(ctx context.Context, from, to uint64, header *types.Header, logs []types.Log) error {
	for _, filter := range c.cfg.Filters {
		for _, fragment := range filter.Fragments() {
			matched := matchingLogs(fragment, logs)
			block, syncLogs := toStoreLogs(c.cfg.ChainID, header, matched)
			if err := c.ss.InsertLogFilterInterval(ctx, fragment, block, nil, syncLogs, interval.Interval{Start: from, End: to}); err != nil {
				return fmt.Errorf("collector: chain %d: insert log filter interval: %w", c.cfg.ChainID, err)
			}
		}
	}
	return nil
}

func (c *Collector) persistFactories(ctx context.Context, from, to uint64, header *types.Header, logs []types.Log) error {
	for _, fs := range c.cfg.Factories {
		factory := fs.Factory
		deployLogs := make([]types.Log, 0)
		for _, l := range logs {
			if l.Address == factory.Address && len(l.Topics) > 0 && l.Topics[0] == factory.EventSelector {
				deployLogs = append(deployLogs, l)
			}
		}
		block, syncLogs := toStoreLogs(c.cfg.ChainID, header, deployLogs)
		if err := c.ss.InsertFactoryChildAddressLogs(ctx, factory, block, nil, syncLogs); err != nil {
			return fmt.Errorf("collector: chain %d: insert factory child addresses: %w", c.cfg.ChainID, err)
		}

		page, _, err := c.ss.GetFactoryChildAddresses(ctx, factory, 0, to, 10000) //nolint:mnd
		if err != nil {
			return fmt.Errorf("collector: chain %d: get factory children: %w", c.cfg.ChainID, err)
		}
		if len(page.Addresses) == 0 {
			continue
		}

		childLogs := make([]types.Log, 0)
		children := make(map[common.Address]struct{}, len(page.Addresses))
		for _, a := range page.Addresses {
			children[a] = struct{}{}
		}
		for _, l := range logs {
			if _, ok := children[l.Address]; ok {
				childLogs = append(childLogs, l)
			}
		}
		block, syncLogs = toStoreLogs(c.cfg.ChainID, header, childLogs)
		if err := c.ss.InsertFactoryLogFilterInterval(ctx, factory, block, nil, syncLogs, interval.Interval{Start: from, End: to}); err != nil {
			return fmt.Errorf("collector: chain %d: insert factory log filter interval: %w", c.cfg.ChainID, err)
		}
	}
	return nil
}

// resumeStartBlock computes where backfill should actually begin: past any
// prefix of cfg.StartBlock already covered, for every configured filter, by
// previously synced intervals. This lets a restarted collector skip ranges a
// prior run already completed instead of always replaying from StartBlock.
func (c *Collector) resumeStartBlock(ctx context.Context) (uint64, error) {
	if len(c.cfg.Filters) == 0 {
		return c.cfg.StartBlock, nil
	}

	perFilter := make([][]interval.Interval, 0, len(c.cfg.Filters))
	for _, filter := range c.cfg.Filters {
		synced, err := c.ss.GetFilterSyncedRange(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("collector: chain %d: get filter synced range: %w", c.cfg.ChainID, err)
		}
		perFilter = append(perFilter, synced)
	}

	// All filters are persisted together in lockstep chunks, so the chunk
	// boundary every filter has actually reached is what bounds a safe resume.
	overall := interval.IntersectionMany(perFilter)
	return resumeFromSyncedPrefix(c.cfg.StartBlock, overall), nil
}

// resumeFromSyncedPrefix returns the first block at or after startBlock not
// yet covered by synced: the start of whatever [startBlock, maxUint64]
// minus synced leaves behind.
func resumeFromSyncedPrefix(startBlock uint64, synced []interval.Interval) uint64 {
	want := []interval.Interval{{Start: startBlock, End: ^uint64(0)}}
	remaining := interval.Difference(want, synced)
	if len(remaining) == 0 {
		return startBlock
	}
	return remaining[0].Start
}

func (c *Collector) unionAddresses() []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, f := range c.cfg.Filters {
		for _, a := range f.Addresses {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
	}
	for _, fs := range c.cfg.Factories {
		a := fs.Factory.Address
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// pollFinality periodically reports the chain's finality tip to the
// gateway independent of backfill/tail progress, since finality can advance
// even while the collector is mid-chunk.
func (c *Collector) pollFinality(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block, err := c.finalizedBlockNumber(ctx)
			if err != nil {
				c.log.Warnw("finality poll failed", "chain_id", c.cfg.ChainID, "error", err)
				continue
			}
			header, err := c.rpc.GetBlockHeader(ctx, block)
			if err != nil {
				continue
			}
			c.gw.HandleNewFinalityCheckpoint(checkpoint.New(header.Time, c.cfg.ChainID, block, ^uint32(0)))
		}
	}
}

func (c *Collector) finalizedBlockNumber(ctx context.Context) (uint64, error) {
	var header *types.Header
	var err error

	switch c.cfg.Finality {
	case itypes.FinalityFinalized:
		header, err = c.rpc.GetFinalizedBlockHeader(ctx)
	case itypes.FinalitySafe:
		header, err = c.rpc.GetSafeBlockHeader(ctx)
	case itypes.FinalityLatest:
		header, err = c.rpc.GetLatestBlockHeader(ctx)
		if err == nil {
			n := header.Number.Uint64()
			if n > c.cfg.FinalizedLag {
				return n - c.cfg.FinalizedLag, nil
			}
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("collector: invalid finality mode %q", c.cfg.Finality)
	}
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func matchingLogs(fr syncstore.Fragment, logs []types.Log) []types.Log {
	var out []types.Log
	for _, l := range logs {
		if fr.Address != nil && *fr.Address != l.Address {
			continue
		}
		if !topicsMatch(fr, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func topicsMatch(fr syncstore.Fragment, topics []common.Hash) bool {
	for i, want := range fr.Topics {
		if want == nil {
			continue
		}
		if i >= len(topics) || topics[i] != *want {
			return false
		}
	}
	return true
}

func toStoreLogs(chainID uint64, header *types.Header, logs []types.Log) (*syncstore.Block, []syncstore.Log) {
	if len(logs) == 0 {
		return nil, nil
	}

	block := &syncstore.Block{
		ChainID:    chainID,
		Hash:       header.Hash(),
		Number:     header.Number.Uint64(),
		Timestamp:  header.Time,
		ParentHash: header.ParentHash,
	}

	out := make([]syncstore.Log, 0, len(logs))
	for _, l := range logs {
		sl := syncstore.Log{
			ChainID:        chainID,
			BlockHash:      l.BlockHash,
			LogIndex:       uint32(l.Index),
			BlockNumber:    l.BlockNumber,
			BlockTimestamp: header.Time,
			TxHash:         l.TxHash,
			Address:        l.Address,
			Data:           l.Data,
		}
		for i, t := range l.Topics {
			if i > 3 { //nolint:mnd
				break
			}
			h := t
			switch i {
			case 0:
				sl.Topic0 = &h
			case 1:
				sl.Topic1 = &h
			case 2:
				sl.Topic2 = &h
			case 3:
				sl.Topic3 = &h
			}
		}
		out = append(out, sl)
	}
	return block, out
}

