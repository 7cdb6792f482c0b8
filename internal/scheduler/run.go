package scheduler

import (
	"context"
	"time"
)

// Run drives load → dispatch rounds until ctx is canceled, flushing progress
// to function_metadata on a periodic ticker. Modeled on
// internal/metrics/server.go's ticker + ctx.Done() select loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushIntervalOrDefault())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.Flush(context.Background())
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Errorw("flush failed", "error", err)
			}
		default:
		}

		if err := s.loadIndexingFunctionTasks(ctx); err != nil {
			if err == ErrLoadCanceled {
				continue
			}
			return err
		}
		if err := s.runDispatchRound(ctx); err != nil {
			return err
		}

		if !s.hasPendingWork() {
			select {
			case <-ctx.Done():
				return s.Flush(context.Background())
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.log.Errorw("flush failed", "error", err)
				}
			case <-time.After(250 * time.Millisecond): //nolint:mnd
			}
		}
	}
}

// hasPendingWork reports whether any function still has buffered tasks or
// room to load more against the gateway's current checkpoint, so Run can
// back off briefly instead of busy-looping while caught up.
func (s *Scheduler) hasPendingWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	gatewayCheckpoint := s.gw.Checkpoint()
	for _, key := range s.order {
		fs := s.functions[key]
		if len(fs.loadedTasks) > 0 {
			return true
		}
		if !fs.isSetup && !fs.fullyLoaded(gatewayCheckpoint) {
			return true
		}
	}
	return false
}
