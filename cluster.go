package microbatch

import (
	"context"
	"errors"
	"sync"
)

var _ Runner[any, any] = (*Cluster[any, any])(nil)
var _ Partitioner[any] = (*fnPartitioner[any])(nil)

// ToCluster convert this setup into a cluster of dispatchers.
func (s Setup[T, R]) ToCluster(maxPartition int, partitioner Partitioner[T]) ClusterSetup[T, R] {
	return NewCluster(s, maxPartition, partitioner)
}

// NewCluster create cluster using configuration.
func NewCluster[T any, R any, I size](s Setup[T, R], maxPartition I, partitioner Partitioner[T]) ClusterSetup[T, R] {
	return ClusterSetup[T, R]{
		setup:        s,
		partition:    partitioner,
		maxPartition: int64(maxPartition),
	}
}

// ClusterSetup cluster of dispatchers that is in setup phase (not running).
// Call [ClusterSetup.Run] with a handler to create a [Cluster] that can accept item.
// A Cluster is a group of dispatchers that share the same configuration and process function.
// Item passed to a cluster will be routed to one of the dispatchers using [Partitioner].
type ClusterSetup[T any, R any] struct {
	setup        Setup[T, R]
	partition    Partitioner[T]
	maxPartition int64
	sequential   bool
}

// Partitioner takes an item and returns the partition number.
// If the partition number is greater than maxPartition, then the partition will be recalculation.
type Partitioner[T any] interface {
	Partition(item T, maxPartition int64) uint64
}

// FnPartitioner create a [Partitioner] using the specified function.
func FnPartitioner[T any](fn func(T, int64) uint64) Partitioner[T] {
	return &fnPartitioner[T]{
		apply: fn,
	}
}

type fnPartitioner[T any] struct {
	apply func(T, int64) uint64
}

func (p *fnPartitioner[T]) Partition(item T, maxPartition int64) uint64 {
	return p.apply(item, maxPartition)
}

// Sequentially create a new [ClusterSetup] with sequential enabled.
// Operation on sequential cluster will be processed sequentially for each dispatcher.
// Operation on non-sequential cluster will be processed at the same time for each dispatcher.
func (c ClusterSetup[T, R]) Sequentially() ClusterSetup[T, R] {
	p := c
	p.sequential = true
	return p
}

// Cluster of dispatchers that is running and can process item.
type Cluster[T any, R any] struct {
	ClusterSetup[T, R]
	dispatchers []*Dispatcher[T, R]
}

// Run create a [*Cluster] that can accept item.
// Each dispatcher of the cluster owns its queue and, if configured, its pool.
func (c ClusterSetup[T, R]) Run(process ProcessFn[T, R]) (*Cluster[T, R], error) {
	if c.maxPartition < 1 {
		return nil, newValidationError("max partition", "must be positive, got %d", c.maxPartition)
	}
	if c.partition == nil {
		return nil, newValidationError("partitioner", "must not be nil")
	}
	if c.setup.queue != nil {
		return nil, newValidationError("queue", "a supplied queue cannot be shared by cluster dispatchers")
	}

	dispatchers := make([]*Dispatcher[T, R], c.maxPartition)
	for i := range dispatchers {
		d, err := c.setup.Run(process)
		if err != nil {
			for _, started := range dispatchers[:i] {
				started.MustClose()
			}
			return nil, err
		}
		dispatchers[i] = d
	}
	return &Cluster[T, R]{ClusterSetup: c, dispatchers: dispatchers}, nil
}

func (r *Cluster[T, R]) route(item T) *Dispatcher[T, R] {
	maxPartition := uint64(r.maxPartition)
	p := r.partition.Partition(item, r.maxPartition)
	if p >= maxPartition {
		p %= maxPartition
	}
	return r.dispatchers[p]
}

// Submit add item to the dispatcher of its partition.
func (r *Cluster[T, R]) Submit(item T, options ...SubmitOption[R]) (*Future[R], error) {
	return r.route(item).Submit(item, options...)
}

// SubmitContext add item to the dispatcher of its partition.
func (r *Cluster[T, R]) SubmitContext(ctx context.Context, item T, options ...SubmitOption[R]) (*Future[R], error) {
	return r.route(item).SubmitContext(ctx, item, options...)
}

// Pending return total number of queued items in cluster, approximately.
func (r *Cluster[T, R]) Pending() int {
	sum := 0
	for i := range r.dispatchers {
		sum += r.dispatchers[i].Pending()
	}
	return sum
}

// Stats return the sum of the counters of every dispatcher.
func (r *Cluster[T, R]) Stats() Stats {
	var sum Stats
	for i := range r.dispatchers {
		s := r.dispatchers[i].Stats()
		sum.Submitted += s.Submitted
		sum.Succeeded += s.Succeeded
		sum.Failed += s.Failed
		sum.Batches += s.Batches
		sum.Pending += s.Pending
	}
	return sum
}

// Flush wake every dispatcher of the cluster.
func (r *Cluster[T, R]) Flush() {
	for i := range r.dispatchers {
		r.dispatchers[i].Flush()
	}
}

// Shutdown stop the cluster.
// Context can be used to provide deadline for this method.
func (r *Cluster[T, R]) Shutdown(ctx context.Context) error {
	return r.each(func(d *Dispatcher[T, R]) error {
		return d.Shutdown(ctx)
	})
}

// Close stop the cluster.
// Return error if the max close wait of a dispatcher passed. See [Dispatcher.Close] for detail.
func (r *Cluster[T, R]) Close() error {
	return r.each(func(d *Dispatcher[T, R]) error {
		return d.Close()
	})
}

// MustClose stop the cluster without deadline.
func (r *Cluster[T, R]) MustClose() {
	err := r.Shutdown(context.Background())
	if err != nil {
		panic(err)
	}
}

// each apply fn to every dispatcher, sequentially or at the same time depending on the setup.
func (r *Cluster[T, R]) each(fn func(d *Dispatcher[T, R]) error) error {
	errs := make([]error, len(r.dispatchers))
	if r.sequential {
		for i := range r.dispatchers {
			errs[i] = fn(r.dispatchers[i])
		}
		return errors.Join(errs...)
	}

	var wg sync.WaitGroup
	for i := range r.dispatchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(r.dispatchers[i])
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
