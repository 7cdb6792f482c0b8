// Package scheduler implements the per-indexing-function task pipeline:
// batch loading from the sync store, dependency-aware dispatch to a bounded
// worker pool, per-task retry/rewind, reorg clamping, and periodic progress
// flush.
package scheduler

import (
	"errors"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/syncstore"
	"github.com/evmindex/evmindex/pkg/indexing"
)

// ErrNonRetryable short-circuits a task's retry loop: the scheduler
// abandons the task immediately instead of rewinding and retrying.
var ErrNonRetryable = errors.New("scheduler: non-retryable")

// IsNonRetryable reports whether err (or anything it wraps) is the
// non-retryable sentinel.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrNonRetryable)
}

// ErrLoadCanceled is returned by loadingMutex.RunExclusive when ctx is
// canceled while waiting for the lock; callers must treat it as "not a real
// failure", distinct from a genuine load/dispatch error.
var ErrLoadCanceled = errors.New("scheduler: load canceled")

// TaskKind distinguishes a one-time-per-chain setup task from a regular
// decoded-log task.
type TaskKind int

const (
	TaskLog TaskKind = iota
	TaskSetup
)

// Task is one unit of dispatch: either a decoded event bound for a Handler,
// or a setup invocation for one chain.
type Task struct {
	Key        indexing.FunctionKey
	Kind       TaskKind
	Checkpoint checkpoint.Checkpoint
	ChainID    uint64
	Event      indexing.DecodedEvent

	// EventsProcessed is set only on the final task of a load batch, to the
	// number of events in that batch's page; nothing in this package reads it.
	EventsProcessed int
}

// FunctionSpec is the caller-supplied description of one registered
// indexing function, built from config + the pkg/indexing registry at
// Reset time.
type FunctionSpec struct {
	Key       indexing.FunctionKey
	Access    indexing.TableAccess
	Handler   indexing.Handler
	Filters   []syncstore.Filter
	Factories []syncstore.FactorySource
	Decoder   EventDecoder

	// StartBlocks is only meaningful for a setup key ("{Contract}:setup"):
	// one synthetic task is enqueued per chain at (0, chainId, startBlock, 0).
	StartBlocks map[uint64]uint64
}

// functionState is the in-memory, per-(contract,event) bookkeeping the
// scheduler maintains between rounds.
type functionState struct {
	key       indexing.FunctionKey
	access    indexing.TableAccess
	handler   indexing.Handler
	filters   []syncstore.Filter
	factories []syncstore.FactorySource
	decoder   EventDecoder
	isSetup   bool

	startBlocks    map[uint64]uint64
	setupChainDone map[uint64]bool

	parents         []indexing.FunctionKey
	isSelfDependent bool

	tasksProcessedToCheckpoint checkpoint.Checkpoint
	tasksLoadedFromCheckpoint  checkpoint.Checkpoint
	tasksLoadedToCheckpoint    checkpoint.Checkpoint

	loadedTasks []Task

	firstEventCheckpoint *checkpoint.Checkpoint
	lastEventCheckpoint  checkpoint.Checkpoint

	eventCount uint64
}

// fullyLoaded reports whether this key has loaded every task it currently
// can, per the calculateTaskBatchSize budget split: no point allotting it a
// share of the next round's budget.
func (f *functionState) fullyLoaded(gatewayCheckpoint checkpoint.Checkpoint) bool {
	return !checkpoint.Less(f.tasksLoadedToCheckpoint, f.lastEventCheckpoint) &&
		!checkpoint.Less(f.tasksLoadedToCheckpoint, gatewayCheckpoint)
}
