package analysis

import (
	"sync"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/clock"
)

// DefaultTimeout is how long a session may stay in flight before the
// watchdog expires it.
const DefaultTimeout = 30 * time.Second

// timerSet keeps at most one cancellable timer per session id.
type timerSet struct {
	clock  clock.Clock
	mu     sync.Mutex
	timers map[string]*timerEntry
}

type timerEntry struct {
	timer *clock.Timer
}

func newTimerSet(clk clock.Clock) *timerSet {
	return &timerSet{clock: clk, timers: make(map[string]*timerEntry)}
}

// schedule runs fn(id) after d unless cancelled first. It is a no-op when a
// timer for id is already pending.
func (t *timerSet) schedule(id string, d time.Duration, fn func(string)) bool {
	t.mu.Lock()
	if _, exists := t.timers[id]; exists {
		t.mu.Unlock()
		return false
	}
	entry := &timerEntry{}
	t.timers[id] = entry
	t.mu.Unlock()

	timer := t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[id] != entry {
			// Cancelled, or replaced by a newer timer.
			t.mu.Unlock()
			return
		}
		delete(t.timers, id)
		t.mu.Unlock()
		fn(id)
	})

	t.mu.Lock()
	entry.timer = timer
	t.mu.Unlock()
	return true
}

func (t *timerSet) cancel(id string) bool {
	t.mu.Lock()
	entry, ok := t.timers[id]
	delete(t.timers, id)
	var timer *clock.Timer
	if ok {
		timer = entry.timer
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if timer != nil {
		timer.Stop()
	}
	return true
}

func (t *timerSet) pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[id]
	return ok
}

func (t *timerSet) cancelAll() {
	t.mu.Lock()
	entries := t.timers
	t.timers = make(map[string]*timerEntry)
	t.mu.Unlock()
	for _, entry := range entries {
		t.mu.Lock()
		timer := entry.timer
		t.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
}

// Watchdog expires sessions that stay in flight too long. Each session has
// its own timer; disarming is idempotent.
type Watchdog struct {
	timeout  time.Duration
	onExpire func(id string)
	timers   *timerSet
}

// NewWatchdog creates a watchdog that calls onExpire when a session's timer
// fires. onExpire runs on the clock's goroutine and must do its own
// locking.
func NewWatchdog(clk clock.Clock, timeout time.Duration, onExpire func(id string)) *Watchdog {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{timeout: timeout, onExpire: onExpire, timers: newTimerSet(clk)}
}

// Arm starts the timer for id. Arming an armed session does nothing.
func (w *Watchdog) Arm(id string) {
	w.timers.schedule(id, w.timeout, w.onExpire)
}

// Disarm cancels the timer for id and reports whether one was pending.
func (w *Watchdog) Disarm(id string) bool {
	return w.timers.cancel(id)
}

// Armed reports whether id has a pending timer.
func (w *Watchdog) Armed(id string) bool {
	return w.timers.pending(id)
}

// Timeout returns the configured expiry delay.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Stop cancels every pending timer.
func (w *Watchdog) Stop() {
	w.timers.cancelAll()
}
