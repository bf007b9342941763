package microbatch

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Unset is a special value for various [Option] functions, usually meaning unrestricted, unlimited, or disable.
// You need to read the doc of the corresponding function to know what this value does.
const Unset = -1

// DefaultQueueSize is the queue capacity used when [WithQueueSize] is not configured.
const DefaultQueueSize = 1000

// DefaultInterval is the dispatch interval used when [WithInterval] is not configured.
const DefaultInterval = 16 * time.Millisecond

// dispatcherConfig configurable options of dispatcher.
type dispatcherConfig struct {
	queueSize             int64
	interval              time.Duration
	poolSize              int64
	policy                SaturationPolicy
	maxCloseWait          time.Duration
	clock                 clockwork.Clock
	limiter               *rate.Limiter
	errorHandlers         []ErrorHandler
	isDisableErrorLogging bool
}

func defaultConfig() dispatcherConfig {
	return dispatcherConfig{
		queueSize: DefaultQueueSize,
		interval:  DefaultInterval,
		poolSize:  Unset,
		policy:    CallerRuns,
		clock:     clockwork.NewRealClock(),
	}
}

// Option general options for dispatcher.
type Option func(*dispatcherConfig)

// size is a type alias for int, int32, and int64.
type size interface {
	~int | ~int32 | ~int64
}

// ErrorHandler observes a failed batch.
// It receives the number of items in the batch and the error delivered to them.
// The ErrorHandler must never panic.
type ErrorHandler func(count int, err error)

// LoggingErrorHandler default error handler,
// it is used if there is no other error handler.
//
// Can be disabled by using [WithDisabledDefaultProcessErrorLog].
func LoggingErrorHandler(count int, err error) {
	slog.Error("error processing batch", slog.Any("count", count), slog.Any("err", err))
}

// WithQueueSize set the capacity of the queue.
// Submitting to a full queue wakes the dispatcher and blocks until space is available.
// Must be positive. Ignored when a queue is supplied by [Setup.WithQueue].
func WithQueueSize[I size](queueSize I) Option {
	return func(c *dispatcherConfig) {
		c.queueSize = int64(queueSize)
	}
}

// WithInterval set the max time the dispatcher sleeps between drains.
// Accept a positive [time.Duration], or -1 [Unset] to sleep until the queue is full (or the dispatcher is flushed or shut down).
func WithInterval(interval time.Duration) Option {
	return func(c *dispatcherConfig) {
		c.interval = interval
	}
}

// WithPoolSize process batches on an internal [Pool] of the given size, which is closed on shutdown.
// Accept a positive number, or -1 [Unset] to process batches on the dispatcher goroutine.
// Ignored when an executor is supplied by [Setup.WithExecutor].
func WithPoolSize[I size](poolSize I) Option {
	return func(c *dispatcherConfig) {
		c.poolSize = int64(poolSize)
	}
}

// WithSaturationPolicy set what happens to a batch when the executor is saturated.
// Default to [CallerRuns].
func WithSaturationPolicy(policy SaturationPolicy) Option {
	return func(c *dispatcherConfig) {
		c.policy = policy
	}
}

// WithMaxCloseWait set the max time [Dispatcher.Close] waits for pending work.
// See [Dispatcher.Close] for the default.
func WithMaxCloseWait(wait time.Duration) Option {
	return func(c *dispatcherConfig) {
		c.maxCloseWait = wait
	}
}

// WithClock set the clock used for the dispatch interval.
// Mostly useful for testing with [clockwork.NewFakeClock].
func WithClock(clock clockwork.Clock) Option {
	return func(c *dispatcherConfig) {
		c.clock = clock
	}
}

// WithDispatchRateLimit limit how often batches are dispatched.
// The dispatcher waits for the limiter before handing each batch over, letting items accumulate meanwhile.
func WithDispatchRateLimit(limit rate.Limit, burst int) Option {
	return func(c *dispatcherConfig) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithErrorHandlers add [ErrorHandler] called for every failed batch.
// The [LoggingErrorHandler] is not added when handlers are configured.
func WithErrorHandlers(handlers ...ErrorHandler) Option {
	return func(c *dispatcherConfig) {
		c.errorHandlers = append(c.errorHandlers, handlers...)
	}
}

// WithDisabledDefaultProcessErrorLog disable default error logging when batch processing error occurs.
func WithDisabledDefaultProcessErrorLog() Option {
	return func(c *dispatcherConfig) {
		c.isDisableErrorLogging = true
	}
}

// validate check the config, hasQueue and hasExecutor tell whether they were supplied directly.
func (c dispatcherConfig) validate(hasQueue bool, hasExecutor bool) error {
	if !hasQueue && c.queueSize < 1 {
		return newValidationError("queue size", "must be positive, got %d", c.queueSize)
	}
	if c.interval != Unset && c.interval <= 0 {
		return newValidationError("interval", "must be positive or Unset, got %s", c.interval)
	}
	if !hasExecutor && c.poolSize != Unset && c.poolSize < 1 {
		return newValidationError("pool size", "must be positive or Unset, got %d", c.poolSize)
	}
	if !c.policy.valid() {
		return newValidationError("saturation policy", "unknown policy %s", c.policy)
	}
	if c.clock == nil {
		return newValidationError("clock", "must not be nil")
	}
	if c.limiter != nil && c.limiter.Limit() != rate.Inf && c.limiter.Burst() < 1 {
		return newValidationError("dispatch rate limit", "burst must be positive, got %d", c.limiter.Burst())
	}
	if c.maxCloseWait < 0 {
		return newValidationError("max close wait", "must not be negative, got %s", c.maxCloseWait)
	}
	return nil
}

// closeMaxWait return the max wait of Close.
func (c dispatcherConfig) closeMaxWait() time.Duration {
	if c.maxCloseWait > 0 {
		return c.maxCloseWait
	}
	// if interval is set then wait double the time.
	if c.interval > 0 && c.interval*2 > 15*time.Second {
		return c.interval * 2
	}
	return 15 * time.Second
}
