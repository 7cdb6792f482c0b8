package scheduler

import (
	"context"
	"fmt"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/entitystore"
	"github.com/evmindex/evmindex/pkg/indexing"
)

// boundClient binds a ClientFactory to the single chain a task runs
// against, so user handlers never need to thread a chain id through every
// RPC call themselves.
type boundClient struct {
	factory ClientFactory
	chainID uint64
}

func (b boundClient) Call(ctx context.Context, blockNumber uint64, method string, params ...any) ([]byte, error) {
	if b.factory == nil {
		return nil, fmt.Errorf("scheduler: no RPC client configured for chain %d", b.chainID)
	}
	client := b.factory(b.chainID)
	if client == nil {
		return nil, fmt.Errorf("scheduler: no RPC client for chain %d", b.chainID)
	}
	return client.Call(ctx, blockNumber, method, params...)
}

// taskContext is the concrete IndexingContext bound to one task.
type taskContext struct {
	ctx     context.Context
	network indexing.Network
	client  indexing.Client
	db      entitystore.EntityStore
}

func (c *taskContext) Context() context.Context        { return c.ctx }
func (c *taskContext) Network() indexing.Network        { return c.network }
func (c *taskContext) Client() indexing.Client          { return c.client }
func (c *taskContext) DB() entitystore.EntityStore      { return c.db }

// executeTask runs fs.handler against task with up to cfg.MaxTaskAttempts
// attempts. Between failed, retryable attempts the entity store is reverted
// back to task.Checkpoint so a partially-applied write from the failed
// attempt doesn't linger for the retry to build on top of. A non-retryable
// error (ErrNonRetryable) or attempt exhaustion halts the scheduler rather
// than silently dropping the task.
func (s *Scheduler) executeTask(ctx context.Context, fs *functionState, task Task) error {
	maxAttempts := s.cfg.MaxTaskAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4 //nolint:mnd
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = s.invokeOnce(ctx, fs, task)
		if lastErr == nil {
			s.onTaskSucceeded(fs, task)
			return nil
		}

		if IsNonRetryable(lastErr) {
			break
		}

		if attempt < maxAttempts {
			if err := s.ents.Revert(ctx, task.Checkpoint); err != nil {
				s.log.Errorw("revert before retry failed",
					"function", fs.key.String(), "attempt", attempt, "error", err)
				lastErr = err
				break
			}
		}
	}

	setIndexingHasError(true)
	s.log.Errorw("task failed, halting",
		"function", fs.key.String(), "chain_id", task.ChainID, "checkpoint", task.Checkpoint.String(), "error", lastErr)
	return fmt.Errorf("scheduler: function %s task at %s: %w", fs.key.String(), task.Checkpoint.String(), lastErr)
}

func (s *Scheduler) invokeOnce(ctx context.Context, fs *functionState, task Task) error {
	tc := &taskContext{
		ctx:     ctx,
		network: indexing.Network{Name: s.networkName(task.ChainID), ChainID: task.ChainID},
		client:  boundClient{factory: s.clients, chainID: task.ChainID},
		db:      s.ents,
	}
	return fs.handler.Invoke(tc, task.Event)
}

// onTaskSucceeded removes task from fs.loadedTasks and advances its
// bookkeeping checkpoints. Tasks from a not-self-dependent, no-parent
// function can complete out of order within a round, so
// tasksProcessedToCheckpoint only ever moves forward (checkpoint.Max2); it
// is never overwritten backward by a late-finishing earlier task.
func (s *Scheduler) onTaskSucceeded(fs *functionState, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range fs.loadedTasks {
		if t.Checkpoint == task.Checkpoint && t.ChainID == task.ChainID {
			fs.loadedTasks = append(fs.loadedTasks[:i], fs.loadedTasks[i+1:]...)
			break
		}
	}

	if task.Kind == TaskSetup {
		fs.setupChainDone[task.ChainID] = true
	} else {
		fs.tasksProcessedToCheckpoint = checkpoint.Max2(fs.tasksProcessedToCheckpoint, task.Checkpoint)
		fs.eventCount++
	}
	functionCheckpoint.WithLabelValues(fs.key.String()).Set(float64(fs.tasksProcessedToCheckpoint.BlockNumber))

	s.maybeEmitEventsProcessedLocked()
}
