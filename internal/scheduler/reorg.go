package scheduler

import (
	"context"

	"github.com/evmindex/evmindex/internal/checkpoint"
)

// HandleReorg clamps every function's progress back to safe and reverts the
// entity store to match, run exclusively against any in-flight load/dispatch
// round. The entity store revert runs at most once per call, even though
// several functions may need clamping, since Revert(safe) already undoes
// every write after safe regardless of which function made it.
func (s *Scheduler) HandleReorg(ctx context.Context, safe checkpoint.Checkpoint) error {
	return s.loadingMutex.RunExclusive(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		needsRevert := false
		for _, key := range s.order {
			fs := s.functions[key]
			if checkpoint.Less(safe, fs.tasksProcessedToCheckpoint) {
				needsRevert = true
				break
			}
		}

		if needsRevert {
			if err := s.ents.Revert(ctx, safe); err != nil {
				return err
			}
		}

		for _, key := range s.order {
			fs := s.functions[key]
			fs.tasksProcessedToCheckpoint = checkpoint.Min(fs.tasksProcessedToCheckpoint, safe)
			fs.tasksLoadedFromCheckpoint = checkpoint.Min(fs.tasksLoadedFromCheckpoint, safe)
			fs.tasksLoadedToCheckpoint = checkpoint.Min(fs.tasksLoadedToCheckpoint, safe)
			fs.loadedTasks = nil
			functionCheckpoint.WithLabelValues(key.String()).Set(float64(fs.tasksProcessedToCheckpoint.BlockNumber))
		}

		if needsRevert {
			reorgTotal.Inc()
			s.log.Warnw("reorg handled", "safe_checkpoint", safe.String())
		}
		return nil
	})
}
