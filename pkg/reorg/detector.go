// Package reorg declares the contract a chain reorganization detector must
// satisfy, independent of its storage and RPC backing.
package reorg

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

// Detector verifies newly fetched logs and headers against previously
// recorded chain history before a collector persists them, so a
// reorganization is caught before it corrupts synced data.
type Detector interface {
	// VerifyAndRecordBlocks checks headers for [fromBlock,toBlock] against
	// recorded block hashes and the block hashes carried by logs. On success
	// it records the new range and returns the verified headers (newest
	// last); headers already finalized and previously verified are omitted.
	// A *ReorgDetectedError return means history no longer matches and
	// nothing was recorded.
	VerifyAndRecordBlocks(ctx context.Context, logs []types.Log, fromBlock, toBlock uint64) ([]*types.Header, error)
}

// ReorgDetectedError is returned when a blockchain reorganization is detected.
type ReorgDetectedError struct {
	FirstReorgBlock uint64
	Details         string
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("reorg detected at block %d: %s", e.FirstReorgBlock, e.Details)
}

// NewReorgError creates a new ReorgDetectedError.
func NewReorgError(firstReorgBlock uint64, details string) error {
	return &ReorgDetectedError{
		FirstReorgBlock: firstReorgBlock,
		Details:         details,
	}
}
