package scheduler

import (
	"context"

	"github.com/evmindex/evmindex/internal/checkpoint"
)

// Flush persists every function's progress to function_metadata. The
// persisted toCheckpoint is clipped to the gateway's finality checkpoint:
// progress past finality could still be rolled back by a reorg, so it isn't
// safe to treat as durable yet. A function with nothing persistable (its
// clipped checkpoint is still zero) is skipped rather than writing a
// placeholder row.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	type pending struct {
		functionID   string
		functionName string
		from, to     checkpoint.Checkpoint
		eventCount   uint64
	}
	var rows []pending

	finality := s.gw.FinalityCheckpoint()
	for _, key := range s.order {
		fs := s.functions[key]

		if fs.isSetup {
			for chainID, startBlock := range fs.startBlocks {
				if !fs.setupChainDone[chainID] {
					continue
				}
				to := checkpoint.New(0, chainID, startBlock, 0)
				rows = append(rows, pending{
					functionID:   setupFunctionID(fs.key, chainID),
					functionName: fs.key.String(),
					from:         to,
					to:           to,
					eventCount:   0,
				})
			}
			continue
		}

		to := checkpoint.Min(fs.tasksProcessedToCheckpoint, finality)
		if to == checkpoint.Zero {
			continue
		}
		rows = append(rows, pending{
			functionID:   fs.key.String(),
			functionName: fs.key.String(),
			from:         fs.tasksLoadedFromCheckpoint,
			to:           to,
			eventCount:   fs.eventCount,
		})
	}
	s.mu.Unlock()

	for _, row := range rows {
		if err := saveFunctionMetadata(ctx, s.db, row.functionID, row.functionName, row.from, row.to, row.eventCount); err != nil {
			return err
		}
	}
	return nil
}

// maybeEmitEventsProcessedLocked emits an eventsProcessed signal when the
// unclipped minimum tasksProcessedToCheckpoint across every function moves
// strictly forward. This is independent of Flush's finality-clipped,
// persisted value: eventsProcessed reports real-time indexing progress,
// Flush reports what's safely durable. Must be called with s.mu held.
func (s *Scheduler) maybeEmitEventsProcessedLocked() {
	if len(s.order) == 0 {
		return
	}

	min := checkpoint.Max
	haveNonSetup := false
	for _, key := range s.order {
		fs := s.functions[key]
		if fs.isSetup {
			continue
		}
		haveNonSetup = true
		min = checkpoint.Min(min, fs.tasksProcessedToCheckpoint)
	}
	if !haveNonSetup {
		return
	}

	if !checkpoint.Less(s.lastEventsProcessed, min) {
		return
	}
	s.lastEventsProcessed = min
	eventsProcessedTotal.Inc()
	gatewayCheckpointGauge.Set(float64(s.gw.Checkpoint().BlockNumber))
}
