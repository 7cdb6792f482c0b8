package scheduler

import (
	"github.com/evmindex/evmindex/internal/syncstore"
	"github.com/evmindex/evmindex/pkg/indexing"
)

// EventDecoder turns a raw stored log into the argument map a Handler sees.
// Implementations wrap an ABI lookup; decode failure is reported, not
// panicked, so a single malformed log can be skipped: a skipped event still
// advances the function's checkpoint but is not counted in eventCount.
type EventDecoder interface {
	Decode(contract, event string, e syncstore.DecodedEvent) (map[string]any, error)
}

// decodeEvent converts a stored log into pkg/indexing's DecodedEvent using d,
// stamping the contract and event from key and the chain id, checkpoint and
// log coordinates from e.
func decodeEvent(d EventDecoder, key indexing.FunctionKey, e syncstore.DecodedEvent) (indexing.DecodedEvent, error) {
	args, err := d.Decode(key.Contract, key.Event, e)
	if err != nil {
		return indexing.DecodedEvent{}, err
	}

	return indexing.DecodedEvent{
		Contract:    key.Contract,
		Event:       key.Event,
		ChainID:     e.Log.ChainID,
		Checkpoint:  e.Checkpoint(),
		Address:     e.Log.Address,
		BlockNumber: e.Log.BlockNumber,
		BlockHash:   e.Log.BlockHash,
		TxHash:      e.Log.TxHash,
		LogIndex:    e.Log.LogIndex,
		Args:        args,
	}, nil
}
