package scheduler

import (
	"context"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/syncstore"
)

// loadIndexingFunctionTasks loads one more batch of tasks for every
// unfinished, non-setup function key (setup tasks are loaded once, at
// Reset). Each key gets a budget share of MaxBatchSize computed by
// calculateTaskBatchSize; keys that are already fully loaded against the
// gateway's current checkpoint don't compete for budget.
func (s *Scheduler) loadIndexingFunctionTasks(ctx context.Context) error {
	return s.loadingMutex.RunExclusive(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		gatewayCheckpoint := s.gw.Checkpoint()
		unfinished := s.unfinishedKeysLocked(gatewayCheckpoint)
		if len(unfinished) == 0 {
			return nil
		}

		budget := s.calculateTaskBatchSizeLocked(gatewayCheckpoint, unfinished)

		for _, fs := range unfinished {
			if err := s.loadOneFunctionLocked(ctx, fs, gatewayCheckpoint, budget); err != nil {
				return err
			}
		}
		return nil
	})
}

// unfinishedKeysLocked returns every non-setup function key that has not yet
// loaded every task available up to the gateway's checkpoint. Must be called
// with s.mu held.
func (s *Scheduler) unfinishedKeysLocked(gatewayCheckpoint checkpoint.Checkpoint) []*functionState {
	var out []*functionState
	for _, key := range s.order {
		fs := s.functions[key]
		if fs.isSetup {
			continue
		}
		if fs.fullyLoaded(gatewayCheckpoint) {
			continue
		}
		out = append(out, fs)
	}
	return out
}

// calculateTaskBatchSizeLocked splits MaxBatchSize across the unfinished
// keys: budget = floor((MaxBatchSize - sum of already-loaded tasks across
// fully-loaded keys) / count(unfinished keys)). The source this is adapted
// from divides by zero when every key is fully loaded; unfinishedKeysLocked
// already filters those out before this is called, so the divisor here is
// always >= 1.
func (s *Scheduler) calculateTaskBatchSizeLocked(gatewayCheckpoint checkpoint.Checkpoint, unfinished []*functionState) int {
	loadedByFullyLoaded := 0
	for _, key := range s.order {
		fs := s.functions[key]
		if fs.isSetup {
			continue
		}
		if fs.fullyLoaded(gatewayCheckpoint) {
			loadedByFullyLoaded += len(fs.loadedTasks)
		}
	}

	remaining := s.cfg.MaxBatchSize - loadedByFullyLoaded
	if remaining < 0 {
		remaining = 0
	}
	return remaining / len(unfinished)
}

// loadOneFunctionLocked loads up to budget events for fs past its current
// tasksLoadedToCheckpoint, decoding each into a Task. Decode failures are
// logged and skipped: the checkpoint still advances past them, but they
// don't count toward eventCount, matching the documented undercounting
// behavior this package's source carries forward intentionally.
func (s *Scheduler) loadOneFunctionLocked(ctx context.Context, fs *functionState, gatewayCheckpoint checkpoint.Checkpoint, budget int) error {
	if budget <= 0 {
		return nil
	}

	page, err := s.ss.GetLogEvents(ctx, syncstore.GetLogEventsParams{
		From:      fs.tasksLoadedToCheckpoint,
		To:        gatewayCheckpoint,
		Limit:     budget,
		Filters:   fs.filters,
		Factories: fs.factories,
	})
	if err != nil {
		return err
	}

	for _, e := range page.Events {
		decoded, derr := decodeEvent(fs.decoder, fs.key, e)
		if derr != nil {
			s.log.Warnw("skipping undecodable event",
				"function", fs.key.String(), "chain_id", e.Log.ChainID, "block_number", e.Log.BlockNumber,
				"log_index", e.Log.LogIndex, "error", derr)
			continue
		}

		fs.loadedTasks = append(fs.loadedTasks, Task{
			Key:        fs.key,
			Kind:       TaskLog,
			Checkpoint: decoded.Checkpoint,
			ChainID:    decoded.ChainID,
			Event:      decoded,
		})

		if fs.firstEventCheckpoint == nil {
			c := decoded.Checkpoint
			fs.firstEventCheckpoint = &c
		}
		fs.lastEventCheckpoint = decoded.Checkpoint
	}

	if page.LastCheckpointInPage != nil {
		fs.tasksLoadedFromCheckpoint = fs.tasksLoadedToCheckpoint
		fs.tasksLoadedToCheckpoint = *page.LastCheckpointInPage
	} else {
		fs.tasksLoadedToCheckpoint = gatewayCheckpoint
	}
	if page.LastCheckpoint != nil && checkpoint.Less(fs.lastEventCheckpoint, *page.LastCheckpoint) {
		fs.lastEventCheckpoint = *page.LastCheckpoint
	}

	if len(fs.loadedTasks) > 0 {
		fs.loadedTasks[len(fs.loadedTasks)-1].EventsProcessed = len(page.Events)
	}
	return nil
}
