package microbatch

import (
	"context"
	"errors"
	"sync"
)

var _ ILoader[any, any] = (*Loader[any, any])(nil)

// ILoader provides common methods of a [Loader].
type ILoader[K comparable, V any] interface {
	// Get registers a key to be loaded and wait for it to be loaded.
	//
	// Context can be used to provide a deadline for this method.
	Get(ctx context.Context, key K) (V, error)

	// GetAll registers keys to be loaded and wait for all of them to be loaded.
	// Context can be used to provide a deadline for this method.
	//
	// In the case of context timed out, keys that are loaded will be returned along with an error.
	GetAll(ctx context.Context, keys []K) (map[K]V, error)

	// Load registers a key to be loaded and return a [Future] for waiting for the result.
	//
	// Context can be used to provide a deadline for registering the key.
	Load(ctx context.Context, key K) *Future[V]

	// LoadAll registers keys to be loaded and return a [Future] of each key.
	//
	// Context can be used to provide a deadline for registering the keys.
	LoadAll(ctx context.Context, keys []K) map[K]*Future[V]

	// Close stop the loader after loading every registered key.
	// Context can be used to provide a deadline for this method.
	Close(ctx context.Context) error
	// Flush force load the registered keys now.
	Flush()
}

// LoadBatchFn function to load a batch of keys.
// Keys that are missing from the result resolve to [ErrLoadMissingResult] or the configured error.
// An error fails every key of the batch.
//
// The [LoadBatchFn] should not modify the keys.
type LoadBatchFn[K comparable, V any] func(keys []K) (map[K]V, error)

// ErrLoadMissingResult is the default error for keys that are missing in the result.
// Can be configured by [LoaderSetup.WithMissingResultError].
var ErrLoadMissingResult = errors.New("empty missing result for key")

// loaded is the per-key result carried through the dispatcher.
type loaded[V any] struct {
	value V
	ok    bool
}

// NewLoader create a [LoaderSetup].
// See [LoaderSetup.Configure] and [Option] for available configuration.
//
// Call [LoaderSetup.Run] with a [LoadBatchFn] to create a [Loader] that can load keys.
// The loader uses the same defaults as [New].
func NewLoader[K comparable, V any]() LoaderSetup[K, V] {
	return LoaderSetup[K, V]{
		setup:              New[K, loaded[V]](),
		missingResultError: ErrLoadMissingResult,
	}
}

// LoaderSetup batch loader that is in setup phase (not running)
// You cannot load any key using this loader yet, use [LoaderSetup.Run] to create a [Loader] that can load keys.
type LoaderSetup[K comparable, V any] struct {
	setup              Setup[K, loaded[V]]
	missingResultError error
}

// Loader [ILoader] that is running and can load keys.
// Keys that are already being loaded share the same [Future].
type Loader[K comparable, V any] struct {
	dispatcher *Dispatcher[K, loaded[V]]

	loadFn             LoadBatchFn[K, V]
	missingResultError error

	lock    sync.Mutex
	loading map[K]*Future[V]
}

// Configure applies [Option] to this loader setup.
func (p LoaderSetup[K, V]) Configure(options ...Option) LoaderSetup[K, V] {
	p.setup = p.setup.Configure(options...)
	return p
}

// WithExecutor load batches on the supplied executor, see [Setup.WithExecutor].
func (p LoaderSetup[K, V]) WithExecutor(executor Executor) LoaderSetup[K, V] {
	p.setup = p.setup.WithExecutor(executor)
	return p
}

// WithMissingResultError set the default error for keys that are missing in the result.
func (p LoaderSetup[K, V]) WithMissingResultError(err error) LoaderSetup[K, V] {
	p.missingResultError = err
	return p
}

// Run create a [Loader] that can load keys.
func (p LoaderSetup[K, V]) Run(loadFn LoadBatchFn[K, V]) (*Loader[K, V], error) {
	if loadFn == nil {
		return nil, newValidationError("load function", "must not be nil")
	}
	loader := &Loader[K, V]{
		loading:            make(map[K]*Future[V]),
		missingResultError: p.missingResultError,
		loadFn:             loadFn,
	}
	dispatcher, err := p.setup.Run(loader.processLoad)
	if err != nil {
		return nil, err
	}
	loader.dispatcher = dispatcher
	return loader, nil
}

// processLoad is a [ProcessFn] that loads a batch of keys.
func (l *Loader[K, V]) processLoad(keys []K) (Result[loaded[V]], error) {
	results, err := l.loadFn(keys)
	if err != nil {
		return Result[loaded[V]]{}, err
	}
	values := make([]loaded[V], len(keys))
	for i, key := range keys {
		v, ok := results[key]
		values[i] = loaded[V]{value: v, ok: ok}
	}
	return PerItem(values), nil
}

// Get registers a key to be loaded and wait for it to be loaded.
//
// Context can be used to provide a deadline for this method.
func (l *Loader[K, V]) Get(ctx context.Context, key K) (V, error) {
	return l.Load(ctx, key).Get(ctx)
}

// Load registers a key to be loaded and return a [Future] for waiting for the result.
//
// Context can be used to provide a deadline for registering the key,
// if it is done first, the future resolves to the context error.
// A nil context is treated as [context.Background].
func (l *Loader[K, V]) Load(ctx context.Context, key K) *Future[V] {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		var zero V
		return newResolvedFuture(zero, ctx.Err())
	}

	l.lock.Lock()
	if future, ok := l.loading[key]; ok {
		l.lock.Unlock()
		return future
	}
	future := newFuture[V]()
	l.loading[key] = future
	l.lock.Unlock()

	_, err := l.dispatcher.SubmitContext(ctx, key,
		OnSuccess(func(r loaded[V]) {
			if !r.ok {
				l.resolve(key, future, r.value, l.missingResultError)
				return
			}
			l.resolve(key, future, r.value, nil)
		}),
		OnFailure[loaded[V]](func(err error) {
			var zero V
			l.resolve(key, future, zero, err)
		}),
	)
	if err != nil {
		var zero V
		l.resolve(key, future, zero, err)
	}
	return future
}

// resolve unregister the key then complete its future.
func (l *Loader[K, V]) resolve(key K, future *Future[V], v V, err error) {
	l.lock.Lock()
	if l.loading[key] == future {
		delete(l.loading, key)
	}
	l.lock.Unlock()
	future.complete(v, err)
}

// GetAll registers keys to be loaded and wait for all of them to be loaded.
// Context can be used to provide a deadline for this method.
//
// In the case of context timed out, keys that are loaded will be returned along with error.
// The result map may not contain all keys if the context is canceled.
func (l *Loader[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	futures := l.LoadAll(ctx, keys)

	errs := make([]error, 0, 10)
	result := make(map[K]V, len(keys))
	for k, future := range futures {
		v, err := future.Get(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result[k] = v
	}
	return result, errors.Join(errs...)
}

// LoadAll registers keys to be loaded and return a [Future] of each key.
//
// Context can be used to provide a deadline for registering the keys.
func (l *Loader[K, V]) LoadAll(ctx context.Context, keys []K) map[K]*Future[V] {
	futures := make(map[K]*Future[V], len(keys))
	for _, key := range keys {
		if _, ok := futures[key]; ok {
			continue
		}
		futures[key] = l.Load(ctx, key)
	}
	return futures
}

// Close stop the loader.
// Every registered key is loaded before this method returns nil.
//
// Context can be used to provide a deadline for this method,
// Context does not affect already in processing batch.
func (l *Loader[K, V]) Close(ctx context.Context) error {
	return l.dispatcher.Shutdown(ctx)
}

// Flush force load the registered keys now.
func (l *Loader[K, V]) Flush() {
	l.dispatcher.Flush()
}
