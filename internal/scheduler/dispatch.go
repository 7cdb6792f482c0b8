package scheduler

import (
	"context"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"golang.org/x/sync/semaphore"
)

// dispatchable selects the prefix of fs.loadedTasks that is safe to hand to
// workers this round, given the load progress of fs's parents. It is a pure
// function of fs and the parent lookup so the four cases can be unit tested
// without the worker pool running.
//
//  1. no parents, self-dependent: a self-dependent function's own tasks must
//     run one at a time (each task can read what an earlier one wrote), so
//     only the first buffered task is dispatched.
//  2. no parents, not self-dependent: nothing constrains ordering against
//     other functions, so every buffered task dispatches at once.
//  3. parents, self-dependent: like case 1, but additionally gated on every
//     parent (and fs itself) having loaded at least as far as the first
//     buffered task's checkpoint, so that task's parent-table reads are
//     guaranteed to observe everything a parent will ever write up to it.
//  4. parents, not self-dependent: dispatch the contiguous prefix of
//     buffered tasks at or before the minimum tasksLoadedFromCheckpoint
//     across all parents; anything past that point might still see a parent
//     write arrive out of order.
func dispatchable(fs *functionState, parents []*functionState) []Task {
	if len(fs.loadedTasks) == 0 {
		return nil
	}

	if len(parents) == 0 {
		if fs.isSelfDependent {
			return append([]Task(nil), fs.loadedTasks[0])
		}
		return append([]Task(nil), fs.loadedTasks...)
	}

	parentsLoadedFrom := checkpoint.Max
	for _, p := range parents {
		parentsLoadedFrom = checkpoint.Min(parentsLoadedFrom, p.tasksLoadedFromCheckpoint)
	}

	if fs.isSelfDependent {
		bound := checkpoint.Min(parentsLoadedFrom, fs.tasksLoadedFromCheckpoint)
		if checkpoint.Compare(bound, fs.loadedTasks[0].Checkpoint, checkpoint.AsUpperBound, checkpoint.AsLowerBound) >= 0 {
			return append([]Task(nil), fs.loadedTasks[0])
		}
		return nil
	}

	var prefix []Task
	for _, t := range fs.loadedTasks {
		if checkpoint.Compare(t.Checkpoint, parentsLoadedFrom, checkpoint.AsLowerBound, checkpoint.AsUpperBound) > 0 {
			break
		}
		prefix = append(prefix, t)
	}
	return prefix
}

// runDispatchRound hands every function's currently-dispatchable tasks to
// the bounded worker pool and removes them from loadedTasks once executed.
// At most cfg.Workers tasks run concurrently across the whole round,
// mirroring an errgroup-based concurrent fan-out but bounded by
// a semaphore instead of one goroutine per item.
func (s *Scheduler) runDispatchRound(ctx context.Context) error {
	s.mu.Lock()
	type batch struct {
		fs    *functionState
		tasks []Task
	}
	var batches []batch
	for _, key := range s.order {
		fs := s.functions[key]
		var parents []*functionState
		for _, pk := range fs.parents {
			parents = append(parents, s.functions[pk])
		}
		tasks := dispatchable(fs, parents)
		if len(tasks) == 0 {
			continue
		}
		batches = append(batches, batch{fs: fs, tasks: tasks})
	}
	s.mu.Unlock()

	if len(batches) == 0 {
		return nil
	}

	totalTasks := 0
	for _, b := range batches {
		totalTasks += len(b.tasks)
	}

	sem := semaphore.NewWeighted(int64(s.workersOrDefault()))
	errCh := make(chan error, totalTasks)
	var pending int

	for _, b := range batches {
		for _, task := range b.tasks {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			pending++
			go func(fs *functionState, task Task) {
				defer sem.Release(1)
				errCh <- s.executeTask(ctx, fs, task)
			}(b.fs, task)
		}
	}

	var firstErr error
	for i := 0; i < pending; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) workersOrDefault() int {
	if s.cfg.Workers <= 0 {
		return 10 //nolint:mnd
	}
	return s.cfg.Workers
}
