package ingest

import (
	"sync"
	"time"
)

// Clock schedules deferred work. Production code uses the wall clock;
// tests substitute a manually advanced one.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc.
type Timer interface {
	Stop() bool
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerHandle owns at most one pending deferred action. arm is a no-op while
// an action is pending and stop is a no-op when nothing is pending.
type timerHandle struct {
	clock Clock

	mu      sync.Mutex
	pending Timer
	gen     uint64
}

func newTimerHandle(clock Clock) *timerHandle {
	return &timerHandle{clock: clock}
}

// arm schedules f after d unless an action is already pending. It reports
// whether a new action was scheduled.
func (h *timerHandle) arm(d time.Duration, f func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending != nil {
		return false
	}

	h.gen++
	gen := h.gen
	h.pending = h.clock.AfterFunc(d, func() {
		h.mu.Lock()
		// a stop or re-arm happened after this timer was already firing
		if h.gen != gen {
			h.mu.Unlock()
			return
		}
		h.pending = nil
		h.mu.Unlock()
		f()
	})
	return true
}

// stop cancels the pending action. It reports whether one was pending.
func (h *timerHandle) stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending == nil {
		return false
	}
	h.pending.Stop()
	h.pending = nil
	h.gen++
	return true
}

func (h *timerHandle) armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending != nil
}
