package microbatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
)

var _ Runner[any, any] = (*Dispatcher[any, any])(nil)

// Runner provides common methods of a [Dispatcher].
type Runner[T any, R any] interface {
	// Submit add item to the dispatcher and return a [Future] of its result.
	// This method blocks while the queue is full, and may block indefinitely.
	// Return [ErrClosed] if the dispatcher was shut down.
	Submit(item T, options ...SubmitOption[R]) (*Future[R], error)
	// SubmitContext add item to the dispatcher and return a [Future] of its result.
	// The context only controls the wait for queue space, once added the item is always processed.
	// If the context is canceled before the item is added, the context error is returned.
	SubmitContext(ctx context.Context, item T, options ...SubmitOption[R]) (*Future[R], error)
	// Pending return number of items waiting in the queue, approximately.
	Pending() int
	// Stats return counters of this dispatcher.
	Stats() Stats
	// Flush wake the dispatcher to process the queued items now.
	Flush()
	// Shutdown stop accepting items, process everything already queued, then release resources.
	// ctx can be used to provide deadline for this method, it does not cancel the processing.
	Shutdown(ctx context.Context) error
	// Close is Shutdown with the configured max close wait.
	Close() error
	// MustClose stop the dispatcher and panic if there is any error.
	// This method should only be used in tests.
	MustClose()
}

// Stats counters of a [Dispatcher].
type Stats struct {
	// Submitted number of items accepted by Submit.
	Submitted uint64
	// Succeeded number of items resolved with a value.
	Succeeded uint64
	// Failed number of items resolved with an error.
	Failed uint64
	// Batches number of batches dispatched.
	Batches uint64
	// Pending number of items in the queue, approximately.
	Pending int
}

// Setup dispatcher that is in setup phase (not running).
// Use [Setup.Run] to create a [Dispatcher] that can accept item.
// See [Option] for available options.
type Setup[T any, R any] struct {
	dispatcherConfig
	queue    Queue[*Request[T, R]]
	executor Executor
}

// New create a [Setup] for a dispatcher of items T and results R.
// By default, the dispatcher operates with the following configuration:
//   - WithQueueSize: 1000
//   - WithInterval: 16ms
//   - WithPoolSize: Unset (process on the dispatcher goroutine)
//   - WithSaturationPolicy: CallerRuns
func New[T any, R any]() Setup[T, R] {
	return Setup[T, R]{dispatcherConfig: defaultConfig()}
}

// Start is a shorthand of New, Configure, then Run.
func Start[T any, R any](process ProcessFn[T, R], options ...Option) (*Dispatcher[T, R], error) {
	return New[T, R]().Configure(options...).Run(process)
}

// Configure apply [Option] to this setup.
// Each Configure call creates a new setup.
func (s Setup[T, R]) Configure(options ...Option) Setup[T, R] {
	s.errorHandlers = slices.Clone(s.errorHandlers)
	for i := range options {
		options[i](&s.dispatcherConfig)
	}
	return s
}

// WithQueue use the supplied queue instead of creating one, [WithQueueSize] is then ignored.
// Requests already in the queue are processed by the first drain.
// The queue must not be shared with another dispatcher.
func (s Setup[T, R]) WithQueue(queue Queue[*Request[T, R]]) Setup[T, R] {
	s.queue = queue
	return s
}

// WithExecutor process batches on the supplied executor, [WithPoolSize] is then ignored.
// The executor is not closed when the dispatcher shuts down.
func (s Setup[T, R]) WithExecutor(executor Executor) Setup[T, R] {
	s.executor = executor
	return s
}

// Dispatcher is a running micro-batching dispatcher.
type Dispatcher[T any, R any] struct {
	config        dispatcherConfig
	process       ProcessFn[T, R]
	errorHandlers []ErrorHandler

	queue     Queue[*Request[T, R]]
	executor  Executor
	ownedPool *Pool

	coord *coordinator
	// admission is read-locked by Submit around the running check and the enqueue,
	// and write-locked by Shutdown while stopping, so no item can be queued after the final drain.
	// Submitters waiting for space give up once closing is closed, so the write lock is never held up by a full queue.
	admission sync.RWMutex
	inflight  sync.WaitGroup

	// closing is closed when Shutdown starts, it releases submitters blocked on a full queue.
	closing   chan struct{}
	closeOnce sync.Once

	// terminated is closed when the dispatcher goroutine exits.
	terminated chan struct{}

	submitted atomix.Uint64
	succeeded atomix.Uint64
	failed    atomix.Uint64
	batches   atomix.Uint64
}

// Run create a [Dispatcher] that can accept item.
// Return a [*ValidationError] if the configuration is invalid, in which case nothing is started.
func (s Setup[T, R]) Run(process ProcessFn[T, R]) (*Dispatcher[T, R], error) {
	if process == nil {
		return nil, newValidationError("process function", "must not be nil")
	}
	if err := s.validate(s.queue != nil, s.executor != nil); err != nil {
		return nil, err
	}

	d := &Dispatcher[T, R]{
		config:        s.dispatcherConfig,
		process:       process,
		errorHandlers: s.errorHandlers,
		queue:         s.queue,
		executor:      s.executor,
		coord:         newCoordinator(s.clock),
		closing:       make(chan struct{}),
		terminated:    make(chan struct{}),
	}
	// if errorHandlers is empty, then add a default logging handler.
	if !s.isDisableErrorLogging && len(d.errorHandlers) == 0 {
		d.errorHandlers = []ErrorHandler{LoggingErrorHandler}
	}
	if d.queue == nil {
		d.queue = NewQueue[*Request[T, R]](int(s.queueSize))
	}
	if d.executor == nil && s.poolSize > 0 {
		d.ownedPool = NewPool(s.poolSize)
		d.executor = d.ownedPool
	}

	go d.loop()
	return d, nil
}

// loop is the dispatcher goroutine.
// While running, it sleeps until the interval elapsed or it is woken, then drains the queue.
// Once stopped, it keeps draining without sleeping and exits on the first empty drain.
func (d *Dispatcher[T, R]) loop() {
	defer close(d.terminated)
	for {
		running := d.coord.isRunning()
		if running {
			d.coord.sleep(d.config.interval)
		}
		requests := d.queue.DrainAll()
		if len(requests) > 0 {
			d.dispatch(requests)
			continue
		}
		if !running {
			break
		}
	}
	slog.Debug("waiting for in-flight batches to finish")
	d.inflight.Wait()
}

// dispatch hand a drained group over to the executor, or process it on this goroutine.
func (d *Dispatcher[T, R]) dispatch(requests []*Request[T, R]) {
	if d.config.limiter != nil {
		if err := d.config.limiter.Wait(context.Background()); err != nil {
			// Should never happen, the limiter burst is validated.
			slog.Error("error waiting for dispatch rate limiter", slog.Any("err", err))
		}
	}
	d.batches.Add(1)

	d.inflight.Add(1)
	job := func() {
		defer d.inflight.Done()
		d.runBatch(requests)
	}
	if d.executor == nil {
		job()
		return
	}
	if d.executor.TrySubmit(job) {
		return
	}

	switch d.config.policy {
	case Block:
		err := d.executor.Submit(context.Background(), job)
		if err == nil {
			return
		}
		slog.Debug("executor refused batch, processing on dispatcher", slog.Any("count", len(requests)), slog.Any("err", err))
	case Reject:
		defer d.inflight.Done()
		d.failBatch(requests, ErrRejected)
		return
	default:
	}
	job()
}

// Submit implements [Runner].
func (d *Dispatcher[T, R]) Submit(item T, options ...SubmitOption[R]) (*Future[R], error) {
	return d.SubmitContext(context.Background(), item, options...)
}

// SubmitContext implements [Runner].
func (d *Dispatcher[T, R]) SubmitContext(ctx context.Context, item T, options ...SubmitOption[R]) (*Future[R], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.admission.RLock()
	defer d.admission.RUnlock()
	if !d.coord.isRunning() {
		return nil, ErrClosed
	}

	req := NewRequest(item, options...)
	// Counted before publishing so Succeeded never exceeds Submitted.
	d.submitted.Add(1)
	if !d.queue.TryEnqueue(req) {
		// Queue is full, make the dispatcher drain before waiting for space.
		d.coord.wake()
		if err := d.enqueue(ctx, req); err != nil {
			d.submitted.Sub(1)
			return nil, err
		}
	}
	if d.queue.Len() >= d.queue.Cap() {
		d.coord.wake()
	}
	return req.future, nil
}

// enqueue wait for queue space until ctx is done or Shutdown starts.
// Return [ErrClosed] in the latter case.
func (d *Dispatcher[T, R]) enqueue(ctx context.Context, req *Request[T, R]) error {
	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-d.closing:
			cancel(ErrClosed)
		case <-waitCtx.Done():
		}
	}()

	if err := d.queue.Enqueue(waitCtx, req); err != nil {
		if cause := context.Cause(waitCtx); errors.Is(cause, ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Pending implements [Runner].
func (d *Dispatcher[T, R]) Pending() int {
	return d.queue.Len()
}

// Stats implements [Runner].
func (d *Dispatcher[T, R]) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Batches:   d.batches.Load(),
		Pending:   d.queue.Len(),
	}
}

// Flush implements [Runner].
func (d *Dispatcher[T, R]) Flush() {
	d.coord.wake()
}

// IsClosed whether Shutdown has been called.
func (d *Dispatcher[T, R]) IsClosed() bool {
	return !d.coord.isRunning()
}

// Shutdown implements [Runner].
// Every item accepted before Shutdown is processed before this method returns nil.
// Calling Shutdown again waits for the same termination.
func (d *Dispatcher[T, R]) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.closeOnce.Do(func() { close(d.closing) })
	d.admission.Lock()
	stopped := d.coord.stop()
	d.admission.Unlock()
	if stopped {
		slog.Debug("waiting for leftover items to be processed")
	}

	select {
	case <-d.terminated:
	case <-ctx.Done():
		return fmt.Errorf("waiting for dispatcher to terminate: %w", ctx.Err())
	}

	if d.ownedPool != nil {
		slog.Debug("closing dispatcher pool")
		if err := d.ownedPool.Close(ctx); err != nil {
			slog.Error("error closing dispatcher pool", slog.Any("err", err))
			return err
		}
	}
	return nil
}

// Close implements [Runner].
// The max wait can be configured by [WithMaxCloseWait],
// otherwise it is double the interval, but at least 15 seconds.
func (d *Dispatcher[T, R]) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.closeMaxWait())
	defer cancel()
	return d.Shutdown(ctx)
}

// MustClose implements [Runner].
func (d *Dispatcher[T, R]) MustClose() {
	err := d.Shutdown(context.Background())
	if err != nil {
		panic(err)
	}
}
