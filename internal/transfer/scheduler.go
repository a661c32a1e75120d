// Package transfer holds the bounded worker pool, the transfer summary and
// the error taxonomy shared by the download and copy engines.
package transfer

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Outcome is the result of one transfer task. Count is the number of items
// written for Resource; zero means the task had nothing to write.
type Outcome struct {
	Resource string
	Count    int
	Bytes    int64
	Err      error
}

// Task is a unit of I/O run by the Scheduler.
type Task func(ctx context.Context) (Outcome, error)

// DefaultWorkers is min(32, NumCPU+4).
func DefaultWorkers() int {
	return min(32, runtime.NumCPU()+4)
}

// Scheduler runs tasks inline when it has one worker, otherwise on a pool
// bounded by a weighted semaphore. Canceling the parent context stops new
// submissions; tasks already submitted still run to completion.
type Scheduler struct {
	workers int
	sem     *semaphore.Weighted
	parent  context.Context
	run     context.Context

	wg       sync.WaitGroup
	mu       sync.Mutex
	outcomes []Outcome
	drained  bool
}

// NewScheduler creates a scheduler with the given pool size. A size below 1
// selects DefaultWorkers.
func NewScheduler(ctx context.Context, workers int) *Scheduler {
	if workers < 1 {
		workers = DefaultWorkers()
	}
	return &Scheduler{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		parent:  ctx,
		run:     context.WithoutCancel(ctx),
	}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Canceled reports whether the parent context was canceled.
func (s *Scheduler) Canceled() bool {
	return s.parent.Err() != nil
}

// Submit runs task inline for a pool of one, or hands it to the pool and
// returns immediately. Its outcome is collected for Drain.
func (s *Scheduler) Submit(resource string, task Task) error {
	if s.Canceled() {
		return ErrCanceled
	}
	if s.workers == 1 {
		s.record(resource, task)
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.run, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		s.record(resource, task)
	}()
	return nil
}

func (s *Scheduler) record(resource string, task Task) {
	out, err := task(s.run)
	if out.Resource == "" {
		out.Resource = resource
	}
	if err != nil {
		out.Err = err
		out.Count = 0
		slog.Warn("transfer failed", "resource", out.Resource, "error", err)
	}
	s.mu.Lock()
	s.outcomes = append(s.outcomes, out)
	s.mu.Unlock()
}

// Drain waits for every submitted task and returns all outcomes. It must be
// called exactly once, before the summary is rendered.
func (s *Scheduler) Drain() []Outcome {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drained {
		slog.Warn("scheduler drained twice")
		return nil
	}
	s.drained = true
	out := s.outcomes
	s.outcomes = nil
	return out
}

// Result is one task result of a Batch.
type Result[T any] struct {
	Value T
	Err   error
}

// Batch is a phase-local barrier on a Scheduler's pool. Results are returned
// in submission order and are not added to the scheduler's outcomes, so the
// caller can act on them synchronously.
type Batch[T any] struct {
	s       *Scheduler
	wg      sync.WaitGroup
	results []Result[T]
	mu      sync.Mutex
}

// NewBatch starts an empty batch on s.
func NewBatch[T any](s *Scheduler) *Batch[T] {
	return &Batch[T]{s: s}
}

// Go runs fn on the pool (inline for a pool of one). It returns false
// without running fn after cancellation.
func (b *Batch[T]) Go(fn func(ctx context.Context) (T, error)) bool {
	if b.s.Canceled() {
		return false
	}
	b.mu.Lock()
	idx := len(b.results)
	b.results = append(b.results, Result[T]{})
	b.mu.Unlock()

	run := func() {
		v, err := fn(b.s.run)
		b.mu.Lock()
		b.results[idx] = Result[T]{Value: v, Err: err}
		b.mu.Unlock()
	}
	if b.s.workers == 1 {
		run()
		return true
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.s.sem.Acquire(b.s.run, 1); err != nil {
			b.mu.Lock()
			b.results[idx] = Result[T]{Err: ErrCanceled}
			b.mu.Unlock()
			return
		}
		defer b.s.sem.Release(1)
		run()
	}()
	return true
}

// Wait blocks until every task of the batch finished.
func (b *Batch[T]) Wait() []Result[T] {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.results
}
