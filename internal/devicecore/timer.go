package devicecore

import (
	"sync"
	"time"

	"github.com/ColonelBlimp/audiobridge/internal/recovery"
)

// debounceTimer coalesces bursts of calls into a single fire after the
// delay has elapsed with no further arm() calls. It is a monotonic
// deadline plus a single-shot scheduled task, not a recurring ticker:
// re-arming simply pushes the deadline forward rather than resetting and
// restarting a periodic timer.
type debounceTimer struct {
	mu       sync.Mutex
	delay    time.Duration
	fn       func()
	timer    *time.Timer
	deadline time.Time
}

func newDebounceTimer(delay time.Duration, fn func()) *debounceTimer {
	return &debounceTimer{delay: delay, fn: fn}
}

// arm (re)schedules fn to run delay from now, canceling any pending fire.
// Calling arm repeatedly within delay of the previous call coalesces all
// of them into the single fire that follows the last call.
func (d *debounceTimer) arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deadline = time.Now().Add(d.delay)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// fire runs on the time.AfterFunc goroutine, outside any caller's recover
// scope, so it guards itself the way main() does.
func (d *debounceTimer) fire() {
	defer recovery.HandlePanic()

	d.mu.Lock()
	// A race between Stop() (below) and an already-fired timer simply
	// means this fire and the next arm's fire both run; refreshFromOS is
	// idempotent, so at worst this coalesces to one extra (harmless) call.
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// stop cancels any pending fire. Safe to call whether or not armed.
func (d *debounceTimer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
