package microbatch

import (
	"context"
	"sync/atomic"
)

var _ IFuture[any] = (*Future[any])(nil)

// IFuture is a future that can be used to get the result of a submitted item.
type IFuture[T any] interface {
	// Get wait until the result is available.
	// The context can be used to cancel the wait (not the processing).
	Get(ctx context.Context) (T, error)
}

// SubmitOption attaches a completion listener to the [Future] of a submitted item.
type SubmitOption[R any] func(*Future[R])

// OnSuccess registers fn to be called with the item result before its [Future] resolves.
// A panic in fn is not recovered.
func OnSuccess[R any](fn func(R)) SubmitOption[R] {
	return func(f *Future[R]) {
		if fn != nil {
			f.onSuccess = append(f.onSuccess, fn)
		}
	}
}

// OnFailure registers fn to be called with the batch error before the [Future] resolves.
// A panic in fn is not recovered.
func OnFailure[R any](fn func(error)) SubmitOption[R] {
	return func(f *Future[R]) {
		if fn != nil {
			f.onFailure = append(f.onFailure, fn)
		}
	}
}

// Future implements [IFuture].
// It is resolved exactly once, to either a value or an error.
type Future[T any] struct {
	// ch is closed when the future is resolved.
	ch chan struct{}
	// completed guards the single assignment.
	completed atomic.Bool

	onSuccess []func(T)
	onFailure []func(error)

	result T
	err    error
}

func newFuture[T any](options ...SubmitOption[T]) *Future[T] {
	f := &Future[T]{ch: make(chan struct{})}
	for i := range options {
		options[i](f)
	}
	return f
}

// newResolvedFuture create an already completed future without running listeners.
func newResolvedFuture[T any](v T, err error) *Future[T] {
	f := &Future[T]{ch: make(chan struct{}), result: v, err: err}
	f.completed.Store(true)
	close(f.ch)
	return f
}

// complete run the listeners then resolve the future.
// Return false if the future was already completed.
func (f *Future[T]) complete(v T, err error) bool {
	if !f.completed.CompareAndSwap(false, true) {
		return false
	}
	if err != nil {
		for _, fn := range f.onFailure {
			fn(err)
		}
	} else {
		for _, fn := range f.onSuccess {
			fn(v)
		}
	}
	f.result = v
	f.err = err
	close(f.ch)
	return true
}

// Get wait until the result is available and return the result.
// The context can be used to cancel the wait (not the processing).
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	if ctx == nil {
		return f.Wait()
	}
	select {
	case <-f.ch:
		return f.result, f.err
	default:
	}

	select {
	case <-f.ch:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	return f.result, f.err
}

// Wait is [Future.Get] without deadline.
func (f *Future[T]) Wait() (T, error) {
	<-f.ch
	return f.result, f.err
}

// Done return a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.ch
}

// IsDone return whether the future is completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}
