// Package reorg detects chain reorganizations by persisting the block
// hashes a collector has already verified and cross-checking newly fetched
// headers and logs against that history and against each other.
package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/evmindex/evmindex/internal/common"
	"github.com/evmindex/evmindex/internal/db"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/internal/metrics"
	"github.com/evmindex/evmindex/pkg/reorg"
	"github.com/evmindex/evmindex/pkg/rpc"
	"github.com/russross/meddler"
)

var _ reorg.Detector = (*ReorgDetector)(nil)

// ReorgDetector detects reorganizations on a single chain by tracking block
// hashes in the block_hashes table, scoped by chainID. The underlying *sql.DB
// is shared with the rest of the engine; ReorgDetector does not own its
// lifecycle.
type ReorgDetector struct {
	db                     *sql.DB
	chainID                uint64
	log                    *logger.Logger
	rpc                    rpc.EthClient
	maintenanceCoordinator db.Maintenance
}

// NewReorgDetector builds a ReorgDetector for one chain over a shared
// database connection.
func NewReorgDetector(
	database *sql.DB,
	chainID uint64,
	rpcClient rpc.EthClient,
	log *logger.Logger,
	maintenanceCoordinator db.Maintenance,
) (*ReorgDetector, error) {
	detector := &ReorgDetector{
		db:                     database,
		chainID:                chainID,
		rpc:                    rpcClient,
		log:                    log,
		maintenanceCoordinator: maintenanceCoordinator,
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)
	detector.log.Info("reorg detector initialized")

	return detector, nil
}

// VerifyAndRecordBlocks checks for reorgs and records blocks for the given range.
// 1. Get the last finalized block and prune finalized blocks from DB
// 2. Verify all non-finalized blocks in DB against current chain state
// 3. Fetch headers for the new block range and verify consistency
// 4. Record the new blocks to DB
// All database operations are performed atomically within a single transaction.
func (r *ReorgDetector) VerifyAndRecordBlocks(
	ctx context.Context,
	logs []types.Log, fromBlock, toBlock uint64) ([]*types.Header, error) {
	unlock := r.maintenanceCoordinator.AcquireOperationLock()
	defer unlock()

	r.log.Debugf("verifying and recording blocks: chain_id=%d num_logs=%d from_block=%d to_block=%d",
		r.chainID, len(logs), fromBlock, toBlock)

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	finalizedHeader, err := r.rpc.GetFinalizedBlockHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get finalized block header: %w", err)
	}
	finalizedBlockNum := finalizedHeader.Number.Uint64()

	cachedFinalizedBlock, err := r.getStoredBlockTx(tx, finalizedBlockNum)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query finalized block hash: %w", err)
	}

	if cachedFinalizedBlock.BlockHash == finalizedHeader.Hash() {
		if err := r.pruneOldBlocksTx(tx, finalizedBlockNum+1); err != nil {
			return nil, fmt.Errorf("failed to prune finalized blocks: %w", err)
		}
		r.log.Debugf("pruned finalized blocks: chain_id=%d finalized_block=%d", r.chainID, finalizedBlockNum)
	}

	nonFinalizedBlocks, err := r.getStoredBlocksAfterBlockTx(tx, finalizedBlockNum)
	if err != nil {
		return nil, fmt.Errorf("failed to get non-finalized blocks: %w", err)
	}

	if len(nonFinalizedBlocks) > 0 {
		r.log.Debugf("verifying non-finalized blocks: chain_id=%d count=%d", r.chainID, len(nonFinalizedBlocks))

		blockNums := make([]uint64, len(nonFinalizedBlocks))
		for i, block := range nonFinalizedBlocks {
			blockNums[i] = block.BlockNumber
		}

		currentHeaders, err := r.rpc.BatchGetBlockHeaders(ctx, blockNums)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch non-finalized headers: %w", err)
		}

		for i, header := range currentHeaders {
			cachedHash := nonFinalizedBlocks[i].BlockHash
			currentHash := header.Hash()

			if cachedHash != currentHash {
				r.log.Warnf("reorg detected in non-finalized blocks: chain_id=%d block=%d cached_hash=%s current_hash=%s",
					r.chainID, header.Number.Uint64(), cachedHash.Hex(), currentHash.Hex())
				ReorgDetectedLog(uint64(len(nonFinalizedBlocks)-i), header.Number.Uint64())
				return nil, reorg.NewReorgError(header.Number.Uint64(),
					fmt.Sprintf("cached_hash=%s current_hash=%s", cachedHash.Hex(), currentHash.Hex()))
			}
		}

		r.log.Debugf("non-finalized blocks verified: chain_id=%d count=%d", r.chainID, len(nonFinalizedBlocks))
	}

	blockNums := make([]uint64, 0, toBlock-fromBlock+1)
	for blockNum := fromBlock; blockNum <= toBlock; blockNum++ {
		if blockNum > finalizedBlockNum {
			blockNums = append(blockNums, blockNum)
		}
	}

	if len(blockNums) == 0 {
		// Everything in [fromBlock,toBlock] is already finalized and was
		// verified on a prior call; nothing new to record.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, nil
	}

	headers, err := r.rpc.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch headers for range: %w", err)
	}

	logBlockHashes := make(map[uint64]common.Hash)
	for _, l := range logs {
		if l.BlockNumber > finalizedBlockNum {
			logBlockHashes[l.BlockNumber] = l.BlockHash
		}
	}

	for i, header := range headers {
		blockNum := header.Number.Uint64()
		headerHash := header.Hash()

		if logHash, exists := logBlockHashes[blockNum]; exists {
			if logHash != headerHash {
				r.log.Warnf("reorg detected during fetch: chain_id=%d block=%d log_hash=%s header_hash=%s",
					r.chainID, blockNum, logHash.Hex(), headerHash.Hex())
				ReorgDetectedLog(uint64(len(headers)-i), blockNum)
				return nil, reorg.NewReorgError(blockNum,
					fmt.Sprintf("log_hash=%s header_hash=%s", logHash.Hex(), headerHash.Hex()))
			}
		}
	}

	if len(headers) > 1 {
		for i := 1; i < len(headers); i++ {
			expectedParent := headers[i-1].Hash()
			actualParent := headers[i].ParentHash

			if actualParent != expectedParent {
				r.log.Warnf("chain discontinuity detected: chain_id=%d block=%d prev_block=%d expected_parent=%s actual_parent=%s",
					r.chainID, headers[i].Number.Uint64(), headers[i-1].Number.Uint64(), expectedParent.Hex(), actualParent.Hex())
				ReorgDetectedLog(uint64(len(headers)-i), headers[i].Number.Uint64())
				return nil, reorg.NewReorgError(headers[i].Number.Uint64(),
					fmt.Sprintf("chain discontinuity between blocks %d and %d",
						headers[i-1].Number.Uint64(), headers[i].Number.Uint64()))
			}
		}
	}

	if err := r.recordBlocksTx(tx, headers); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debugf("recorded block hashes: chain_id=%d from_block=%d to_block=%d count=%d",
		r.chainID, headers[0].Number.Uint64(), headers[len(headers)-1].Number.Uint64(), len(headers))

	return headers, nil
}

// StoredBlock is a row of the block_hashes table, read through meddler.
type StoredBlock struct {
	ChainID     uint64      `meddler:"chain_id"`
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	ParentHash  common.Hash `meddler:"parent_hash,hash"`
}

func (r *ReorgDetector) getStoredBlockTx(tx *sql.Tx, blockNum uint64) (StoredBlock, error) {
	var block StoredBlock
	err := meddler.QueryRow(tx, &block,
		"SELECT * FROM block_hashes WHERE chain_id = ? AND block_number = ?", r.chainID, blockNum)
	if err != nil {
		return StoredBlock{}, err
	}
	return block, nil
}

func (r *ReorgDetector) getStoredBlocksAfterBlockTx(tx *sql.Tx, finalizedBlockNum uint64) ([]*StoredBlock, error) {
	var blocks []*StoredBlock
	err := meddler.QueryAll(tx, &blocks,
		"SELECT * FROM block_hashes WHERE chain_id = ? AND block_number > ? ORDER BY block_number ASC",
		r.chainID, finalizedBlockNum)
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// recordBlocksTx upserts block hashes: a reorg on an already-recorded block
// number must overwrite the stale hash, not conflict with it.
func (r *ReorgDetector) recordBlocksTx(tx *sql.Tx, headers []*types.Header) error {
	for _, header := range headers {
		if _, err := tx.Exec(`
			INSERT INTO block_hashes (chain_id, block_number, block_hash, parent_hash) VALUES (?, ?, ?, ?)
			ON CONFLICT (chain_id, block_number) DO UPDATE SET block_hash = excluded.block_hash, parent_hash = excluded.parent_hash`,
			r.chainID, header.Number.Uint64(), header.Hash().Hex(), header.ParentHash.Hex()); err != nil {
			return fmt.Errorf("failed to insert block %d: %w", header.Number.Uint64(), err)
		}
	}
	return nil
}

func (r *ReorgDetector) pruneOldBlocksTx(tx *sql.Tx, keepFromBlock uint64) error {
	result, err := tx.Exec(
		"DELETE FROM block_hashes WHERE chain_id = ? AND block_number < ?",
		r.chainID, keepFromBlock,
	)
	if err != nil {
		return fmt.Errorf("failed to prune old blocks: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		r.log.Debugf("pruned old block hashes in transaction: chain_id=%d keep_from_block=%d deleted_count=%d",
			r.chainID, keepFromBlock, rowsAffected)
	}

	return nil
}

// Close flips the component's reported health; the shared *sql.DB is closed
// by whoever constructed it, not by ReorgDetector.
func (r *ReorgDetector) Close() error {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, false)
	return nil
}
