package microbatch

import (
	"context"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"golang.org/x/sync/semaphore"
)

var _ Queue[any] = (*BoundedQueue[any])(nil)

// Queue is a fixed-capacity FIFO holding area for pending requests.
// Implementations must be safe for concurrent producers, DrainAll is only called by the dispatcher goroutine.
type Queue[E any] interface {
	// TryEnqueue add e without blocking.
	// Return true iff the queue had room for it at the instant of the call.
	TryEnqueue(e E) bool
	// Enqueue add e, blocking until space is available.
	// If the context is canceled first, e is not added and the context error is returned.
	Enqueue(ctx context.Context, e E) error
	// DrainAll remove and return every queued element in FIFO order, without blocking.
	// The returned slice may be empty.
	DrainAll() []E
	// Len return the number of queued elements, approximately.
	Len() int
	// Cap return the capacity of the queue.
	Cap() int
}

// BoundedQueue is the default [Queue].
// Elements are stored in a lock-free ring, the capacity is enforced exactly by a semaphore,
// as the ring itself rounds its size up to a power of two.
type BoundedQueue[E any] struct {
	ring     lfq.Queue[E]
	slots    *semaphore.Weighted
	capacity int
	length   atomix.Int64
}

// NewQueue create a [BoundedQueue] holding at most capacity elements.
// Panic if capacity < 1.
func NewQueue[E any](capacity int) *BoundedQueue[E] {
	if capacity < 1 {
		panic("queue capacity must be positive")
	}
	return &BoundedQueue[E]{
		ring:     lfq.BuildMPSC[E](lfq.New(max(capacity, 2)).SingleConsumer().Compact()),
		slots:    semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// TryEnqueue implements [Queue].
func (q *BoundedQueue[E]) TryEnqueue(e E) bool {
	if !q.slots.TryAcquire(1) {
		return false
	}
	q.publish(e)
	return true
}

// Enqueue implements [Queue].
func (q *BoundedQueue[E]) Enqueue(ctx context.Context, e E) error {
	if err := q.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	q.publish(e)
	return nil
}

// publish push e into the ring. The caller must hold a slot.
func (q *BoundedQueue[E]) publish(e E) {
	q.length.Add(1)
	var bo iox.Backoff
	for {
		err := q.ring.Enqueue(&e)
		if err == nil {
			return
		}
		if !iox.IsWouldBlock(err) {
			// Should never happen.
			panic(err)
		}
		// The slot is reserved but the consumer has not finished recycling it yet.
		bo.Wait()
	}
}

// DrainAll implements [Queue].
func (q *BoundedQueue[E]) DrainAll() []E {
	n := q.length.Load()
	if n <= 0 {
		return nil
	}
	items := make([]E, 0, n)
	for {
		e, err := q.ring.Dequeue()
		if err != nil {
			break
		}
		items = append(items, e)
	}
	if len(items) == 0 {
		return nil
	}
	q.length.Add(-int64(len(items)))
	q.slots.Release(int64(len(items)))
	return items
}

// Len implements [Queue].
func (q *BoundedQueue[E]) Len() int {
	n := q.length.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Cap implements [Queue].
func (q *BoundedQueue[E]) Cap() int {
	return q.capacity
}
