package fontcontroller

import (
	"sync"
	"time"
)

// DefaultThrottleInterval is the minimum time between two throttled sends.
const DefaultThrottleInterval = 50 * time.Millisecond

// Throttler coalesces calls on the trailing edge: at most one call runs per
// interval and only the most recently scheduled function survives. Calls
// never run concurrently and never run out of order with Flush.
type Throttler struct {
	interval time.Duration

	// runMu serializes running functions with Cancel and Flush.
	runMu sync.Mutex

	mu      sync.Mutex
	pending func()
	timer   *time.Timer
	gen     uint64
	lastRun time.Time
}

// NewThrottler returns a throttler; a non-positive interval uses the default.
func NewThrottler(interval time.Duration) *Throttler {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttler{interval: interval}
}

// Schedule replaces the pending function with fn and arms the timer if it
// is not armed yet.
func (t *Throttler) Schedule(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = fn
	if t.timer != nil {
		return
	}
	delay := t.interval - time.Since(t.lastRun)
	if delay < 0 {
		delay = 0
	}
	gen := t.gen
	t.timer = time.AfterFunc(delay, func() { t.fire(gen) })
}

func (t *Throttler) fire(gen uint64) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	fn := t.take()
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// take clears the pending state. Callers hold t.mu.
func (t *Throttler) take() func() {
	fn := t.pending
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	if fn != nil {
		t.lastRun = time.Now()
	}
	return fn
}

// Cancel drops the pending function. A function already running completes
// before Cancel returns.
func (t *Throttler) Cancel() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Flush runs the pending function now, if any.
func (t *Throttler) Flush() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	fn := t.take()
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pending reports whether a function is waiting to run.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
