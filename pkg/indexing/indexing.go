// Package indexing is the registration surface user-supplied indexing
// functions are written against: pkg/indexing holds the stable interface
// types, internal/scheduler holds the engine that dispatches to them.
package indexing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/pkg/entitystore"
)

// TableAccess declares which entity tables a function reads and writes. The
// scheduler inverts these across every registered function to build its
// dependency graph; a function that both reads and writes the same table is
// self-dependent and runs serially within its own key.
type TableAccess struct {
	Reads  []string
	Writes []string
}

// DecodedEvent is one decoded EVM log, ready for a Handler to consume. The
// raw-to-decoded step (ABI lookup and argument unpacking) is an external
// collaborator's concern; the scheduler only ever hands Handlers an
// already-decoded event.
type DecodedEvent struct {
	Contract    string
	Event       string
	ChainID     uint64
	Checkpoint  checkpoint.Checkpoint
	Address     common.Address
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint32
	Args        map[string]any
}

// Network identifies the chain a task is executing against.
type Network struct {
	Name    string
	ChainID uint64
}

// Client is the read-only RPC surface exposed to user code. The scheduler
// binds it to the task's chain and passes each read straight to that chain's
// RPC client; reads are not cached in the sync store's rpc_request_results
// table, so a task replayed after a retry or rewind issues its reads again.
type Client interface {
	Call(ctx context.Context, blockNumber uint64, method string, params ...any) (result []byte, err error)
}

// IndexingContext is the {network, client, db, contracts} bundle handed to
// a Handler for each task, bound to that task's checkpoint: entity-store
// writes made through DB() are stamped with it automatically.
type IndexingContext interface {
	Context() context.Context
	Network() Network
	Client() Client
	DB() entitystore.EntityStore
}

// Handler is the single-method interface user indexing functions implement.
// One Handler is registered per (contract, event) key; the concrete mapping
// is a lookup table the scheduler builds at Reset.
type Handler interface {
	Invoke(ctx IndexingContext, event DecodedEvent) error
}

// HandlerFunc adapts a plain function to Handler, the way http.HandlerFunc
// adapts a function to http.Handler.
type HandlerFunc func(ctx IndexingContext, event DecodedEvent) error

func (f HandlerFunc) Invoke(ctx IndexingContext, event DecodedEvent) error {
	return f(ctx, event)
}

// FunctionKey identifies a registered indexing function. Setup functions use
// Event == "setup".
type FunctionKey struct {
	Contract string
	Event    string
}

func (k FunctionKey) String() string {
	return k.Contract + ":" + k.Event
}
