// ABOUTME: Cancelable scheduler abstraction for debounce and backoff timers.
// ABOUTME: Real wraps time.AfterFunc; every scheduled call returns a Handle.

package schedule

import "time"

// Handle refers to a scheduled call.
type Handle interface {
	// Cancel prevents the call from running. It returns false if the call
	// already ran or was already canceled.
	Cancel() bool
}

// Scheduler runs functions after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Handle
}

// Real schedules calls on the wall clock.
type Real struct{}

// AfterFunc runs fn on its own goroutine once d has elapsed.
func (Real) AfterFunc(d time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}

// CancelAll cancels every non-nil handle.
func CancelAll(handles ...Handle) {
	for _, h := range handles {
		if h != nil {
			h.Cancel()
		}
	}
}
