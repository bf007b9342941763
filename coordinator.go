package microbatch

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// coordinator holds the running/notified state of a dispatcher.
// Both fields are only accessed under mu.
//
// notified is a pending wake-up latch: a wake that arrives while the dispatcher is not yet waiting
// makes the next sleep return immediately instead of being lost.
type coordinator struct {
	clock clockwork.Clock

	mu       sync.Mutex
	running  bool
	notified bool
	// signal has a buffer of one, it is the condition the sleeper selects on.
	signal chan struct{}
}

func newCoordinator(clock clockwork.Clock) *coordinator {
	return &coordinator{
		clock:   clock,
		running: true,
		signal:  make(chan struct{}, 1),
	}
}

// sleep suspends the caller until interval elapses, or a wake-up is pending or arrives.
// An interval <= 0 means no timeout.
// The latch is cleared on return.
func (c *coordinator) sleep(interval time.Duration) {
	c.mu.Lock()
	if c.notified || !c.running {
		c.clearLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if interval > 0 {
		timer := c.clock.NewTimer(interval)
		select {
		case <-timer.Chan():
		case <-c.signal:
			timer.Stop()
		}
	} else {
		<-c.signal
	}

	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
}

// wake set the latch and signal the sleeper, if any.
func (c *coordinator) wake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = true
	select {
	case c.signal <- struct{}{}:
	default:
		// A signal is already pending.
	}
}

func (c *coordinator) clearLocked() {
	c.notified = false
	select {
	case <-c.signal:
	default:
	}
}

func (c *coordinator) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// stop mark the dispatcher as not running and wake it.
// Return true only for the call that performed the transition.
func (c *coordinator) stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.running = false
	c.notified = true
	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}
