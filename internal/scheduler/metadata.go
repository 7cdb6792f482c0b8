package scheduler

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/russross/meddler"
)

// functionMetadataRow mirrors the function_metadata table. Setup keys are
// persisted one row per chain, functionId "{contract}:setup:{chainId}",
// since a single scalar checkpoint can't represent "done for chain 5 but
// not chain 3" the way a normal key's monotone checkpoint can.
type functionMetadataRow struct {
	FunctionID   string  `meddler:"function_id,pk"`
	FunctionName string  `meddler:"function_name"`
	FromTS       uint64  `meddler:"from_ts"`
	FromChainID  uint64  `meddler:"from_chain_id"`
	FromBlock    uint64  `meddler:"from_block"`
	FromLogIdx   *uint32 `meddler:"from_log_idx"`
	ToTS         uint64  `meddler:"to_ts"`
	ToChainID    uint64  `meddler:"to_chain_id"`
	ToBlock      uint64  `meddler:"to_block"`
	ToLogIdx     *uint32 `meddler:"to_log_idx"`
	EventCount   uint64  `meddler:"event_count"`
}

func loadFunctionMetadata(ctx context.Context, db *sql.DB, functionID string) (functionMetadataRow, bool, error) {
	var row functionMetadataRow
	err := meddler.QueryRow(db, &row, `SELECT * FROM function_metadata WHERE function_id = ?`, functionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return functionMetadataRow{}, false, nil
		}
		return functionMetadataRow{}, false, fmt.Errorf("scheduler: load function metadata %s: %w", functionID, err)
	}
	return row, true, nil
}

func toCheckpointValue(row functionMetadataRow) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		BlockTimestamp: row.ToTS,
		ChainID:        row.ToChainID,
		BlockNumber:    row.ToBlock,
		LogIndex:       row.ToLogIdx,
	}
}

func saveFunctionMetadata(
	ctx context.Context,
	db *sql.DB,
	functionID, functionName string,
	from, to checkpoint.Checkpoint,
	eventCount uint64,
) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO function_metadata
			(function_id, function_name, from_ts, from_chain_id, from_block, from_log_idx,
			 to_ts, to_chain_id, to_block, to_log_idx, event_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(function_id) DO UPDATE SET
			from_ts = excluded.from_ts, from_chain_id = excluded.from_chain_id,
			from_block = excluded.from_block, from_log_idx = excluded.from_log_idx,
			to_ts = excluded.to_ts, to_chain_id = excluded.to_chain_id,
			to_block = excluded.to_block, to_log_idx = excluded.to_log_idx,
			event_count = excluded.event_count`,
		functionID, functionName,
		from.BlockTimestamp, from.ChainID, from.BlockNumber, logIdxValue(from.LogIndex),
		to.BlockTimestamp, to.ChainID, to.BlockNumber, logIdxValue(to.LogIndex),
		eventCount,
	)
	if err != nil {
		return fmt.Errorf("scheduler: save function metadata %s: %w", functionID, err)
	}
	return nil
}

func logIdxValue(li *uint32) interface{} {
	if li == nil {
		return nil
	}
	return *li
}
