package scheduler

import (
	"context"
	"fmt"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/pkg/indexing"
)

// Reset (re)builds the scheduler's function table from specs: cold-start
// from persisted function_metadata where present, zero otherwise. It also
// inverts each function's declared table access into a parent/self-dependent
// classification used by dispatch.
//
// parents[f] = union of writers(t) for every table t that f reads, minus f
// itself; f is self-dependent if f writes a table it also reads. Both are
// pure functions of the full spec set, computed in two passes so a
// function's parents can reference functions declared after it.
func (s *Scheduler) Reset(ctx context.Context, specs []FunctionSpec) error {
	return s.loadingMutex.RunExclusive(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		writers := make(map[string][]indexing.FunctionKey)
		for _, spec := range specs {
			for _, table := range spec.Access.Writes {
				writers[table] = append(writers[table], spec.Key)
			}
		}

		functions := make(map[indexing.FunctionKey]*functionState, len(specs))
		order := make([]indexing.FunctionKey, 0, len(specs))

		for _, spec := range specs {
			fs := &functionState{
				key:         spec.Key,
				access:      spec.Access,
				handler:     spec.Handler,
				filters:     spec.Filters,
				factories:   spec.Factories,
				decoder:     spec.Decoder,
				isSetup:     spec.Key.Event == "setup",
				startBlocks: spec.StartBlocks,
			}

			parentSet := make(map[indexing.FunctionKey]struct{})
			for _, table := range spec.Access.Reads {
				for _, w := range writers[table] {
					if w == spec.Key {
						fs.isSelfDependent = true
						continue
					}
					parentSet[w] = struct{}{}
				}
			}
			for p := range parentSet {
				fs.parents = append(fs.parents, p)
			}

			if fs.isSetup {
				if err := s.enqueueSetupTasks(ctx, fs); err != nil {
					return err
				}
			} else {
				from, err := s.loadPersistedCheckpoint(ctx, spec.Key)
				if err != nil {
					return err
				}
				fs.tasksProcessedToCheckpoint = from
				fs.tasksLoadedFromCheckpoint = from
				fs.tasksLoadedToCheckpoint = from
				fs.lastEventCheckpoint = from
				functionCheckpoint.WithLabelValues(spec.Key.String()).Set(float64(from.BlockNumber))
			}

			functions[spec.Key] = fs
			order = append(order, spec.Key)
		}

		s.functions = functions
		s.order = order
		s.lastEventsProcessed = checkpoint.Zero
		setIndexingHasError(false)
		return nil
	})
}

// setupFunctionID is the per-chain function_metadata key for a setup
// function: a single scalar checkpoint can't tell "done for chain 5" apart
// from "done for chain 3" the way an ordinary function's monotone checkpoint
// can, so each chain gets its own row under the shared function name.
func setupFunctionID(key indexing.FunctionKey, chainID uint64) string {
	return fmt.Sprintf("%s:%d", key.String(), chainID)
}

// enqueueSetupTasks loads one synthetic task per chain at
// (0, chainId, startBlock, 0) for chains that haven't already run it,
// per the cold-start setup enqueue rule.
func (s *Scheduler) enqueueSetupTasks(ctx context.Context, fs *functionState) error {
	fs.setupChainDone = make(map[uint64]bool, len(fs.startBlocks))

	for chainID, startBlock := range fs.startBlocks {
		functionID := setupFunctionID(fs.key, chainID)
		_, done, err := loadFunctionMetadata(ctx, s.db, functionID)
		if err != nil {
			return err
		}
		fs.setupChainDone[chainID] = done
		if done {
			continue
		}

		fs.loadedTasks = append(fs.loadedTasks, Task{
			Key:        fs.key,
			Kind:       TaskSetup,
			Checkpoint: checkpoint.New(0, chainID, startBlock, 0),
			ChainID:    chainID,
		})
	}
	return nil
}

// loadPersistedCheckpoint resolves a regular (non-setup) function's
// cold-start checkpoint from its single function_metadata row.
func (s *Scheduler) loadPersistedCheckpoint(ctx context.Context, key indexing.FunctionKey) (checkpoint.Checkpoint, error) {
	row, ok, err := loadFunctionMetadata(ctx, s.db, key.String())
	if err != nil {
		return checkpoint.Zero, err
	}
	if !ok {
		return checkpoint.Zero, nil
	}
	return toCheckpointValue(row), nil
}
