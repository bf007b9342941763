package microbatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var _ Executor = (*Pool)(nil)

// Executor runs batches off the dispatcher goroutine.
// An Executor passed to [Setup.WithExecutor] is used but never closed by the dispatcher.
type Executor interface {
	// TrySubmit schedule the task without blocking.
	// Return false if the executor is saturated and the task was not accepted.
	TrySubmit(task func()) bool
	// Submit schedule the task, blocking until it is accepted or the context is done.
	Submit(ctx context.Context, task func()) error
}

// SaturationPolicy decides what happens to a batch when the [Executor] cannot accept it immediately.
type SaturationPolicy int

const (
	// CallerRuns process the batch on the dispatcher goroutine.
	// This bounds executor backlog at the cost of stalling the dispatcher while processing.
	CallerRuns SaturationPolicy = iota
	// Block wait until the executor accepts the batch.
	Block
	// Reject fail every item of the batch with [ErrRejected].
	Reject
)

func (p SaturationPolicy) String() string {
	switch p {
	case CallerRuns:
		return "caller-runs"
	case Block:
		return "block"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("SaturationPolicy(%d)", int(p))
	}
}

func (p SaturationPolicy) valid() bool {
	return p >= CallerRuns && p <= Reject
}

// Pool is a fixed-size [Executor].
// Each accepted task runs on its own goroutine, at most size tasks run at the same time.
type Pool struct {
	size    int64
	workers *semaphore.Weighted
	closed  atomic.Bool
}

// NewPool create a [Pool] running at most size tasks concurrently.
// Panic if size < 1.
func NewPool[I size](size I) *Pool {
	if size < 1 {
		panic("pool size must be positive")
	}
	return &Pool{
		size:    int64(size),
		workers: semaphore.NewWeighted(int64(size)),
	}
}

// Size return the number of workers.
func (p *Pool) Size() int {
	return int(p.size)
}

// TrySubmit implements [Executor].
func (p *Pool) TrySubmit(task func()) bool {
	if p.closed.Load() || !p.workers.TryAcquire(1) {
		return false
	}
	go p.run(task)
	return true
}

// Submit implements [Executor].
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	go p.run(task)
	return nil
}

func (p *Pool) run(task func()) {
	defer p.workers.Release(1)
	task()
}

// Close stop accepting tasks and wait for running tasks to complete.
// Context can be used to provide a deadline for this method.
// Only the first call waits.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	// Holding every slot means no task is running, and keeps the pool saturated afterward.
	if err := p.workers.Acquire(ctx, p.size); err != nil {
		return fmt.Errorf("waiting for pool workers: %w", err)
	}
	return nil
}
