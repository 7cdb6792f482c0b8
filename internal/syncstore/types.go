package syncstore

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/evmindex/evmindex/internal/checkpoint"
)

// Block is a minimal per-chain block header, enough to stamp logs with a
// timestamp and detect reorgs.
type Block struct {
	ChainID    uint64      `meddler:"chain_id"`
	Hash       common.Hash `meddler:"hash,hash"`
	Number     uint64      `meddler:"number"`
	Timestamp  uint64      `meddler:"timestamp"`
	ParentHash common.Hash `meddler:"parent_hash,hash"`
}

// Transaction is the subset of transaction fields the store persists to
// support decoded-event queries that surface sender/recipient.
type Transaction struct {
	ChainID     uint64         `meddler:"chain_id"`
	Hash        common.Hash    `meddler:"hash,hash"`
	BlockHash   common.Hash    `meddler:"block_hash,hash"`
	BlockNumber uint64         `meddler:"block_number"`
	From        common.Address `meddler:"from,address"`
	To          *common.Address `meddler:"to,address"`
}

// Log is a single EVM log as persisted, with up to four topics.
type Log struct {
	ID             int64          `meddler:"id,pk"`
	ChainID        uint64         `meddler:"chain_id"`
	BlockHash      common.Hash    `meddler:"block_hash,hash"`
	LogIndex       uint32         `meddler:"log_index"`
	BlockNumber    uint64         `meddler:"block_number"`
	BlockTimestamp uint64         `meddler:"block_timestamp"`
	TxHash         common.Hash    `meddler:"tx_hash,hash"`
	Address        common.Address `meddler:"address,address"`
	Topic0         *common.Hash   `meddler:"topic0,hash"`
	Topic1         *common.Hash   `meddler:"topic1,hash"`
	Topic2         *common.Hash   `meddler:"topic2,hash"`
	Topic3         *common.Hash   `meddler:"topic3,hash"`
	Data           []byte         `meddler:"data"`
}

func (l Log) topics() [4]*common.Hash {
	return [4]*common.Hash{l.Topic0, l.Topic1, l.Topic2, l.Topic3}
}

// Checkpoint is the total-order position of this log, per
// internal/checkpoint.
func (l Log) Checkpoint() checkpoint.Checkpoint {
	return checkpoint.New(l.BlockTimestamp, l.ChainID, l.BlockNumber, l.LogIndex)
}

// DecodedEvent is a log joined with its block and transaction context, the
// unit returned by GetLogEvents.
type DecodedEvent struct {
	Log         Log
	Transaction *Transaction
}

// Checkpoint is the total-order position of this event.
func (e DecodedEvent) Checkpoint() checkpoint.Checkpoint {
	return e.Log.Checkpoint()
}

// Page is the result of a paginated GetLogEvents query.
type Page struct {
	Events []DecodedEvent
	// HasNextPage is true when more matching events exist past the page.
	HasNextPage bool
	// LastCheckpointInPage is the checkpoint of the last event returned in
	// this page, nil if the page is empty.
	LastCheckpointInPage *checkpoint.Checkpoint
	// LastCheckpoint is the checkpoint of the newest matching event in the
	// entire query window, nil if no event matched.
	LastCheckpoint *checkpoint.Checkpoint
}

// GetLogEventsParams bounds a GetLogEvents query to the half-open window
// (From, To] and the given set of filters/factories, all scoped by the
// filters'/factories' own ChainID fields.
type GetLogEventsParams struct {
	From     checkpoint.Checkpoint
	To       checkpoint.Checkpoint
	Limit    int
	Filters  []Filter
	Factories []FactorySource
}

// FactorySource pairs a factory with the log filter describing which of its
// children's logs should be returned (address is populated dynamically per
// matching child).
type FactorySource struct {
	Factory Factory
	Topics  [4][]common.Hash
}
