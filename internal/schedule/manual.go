// ABOUTME: Deterministic virtual-clock scheduler for tests.
// ABOUTME: Calls fire synchronously inside Advance, in due-time order.

package schedule

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by Advance instead of the wall clock.
// It is safe for concurrent use; scheduled functions run on the goroutine
// that calls Advance, outside the internal lock.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers map[uint64]*manualTimer
	added  chan struct{}
}

type manualTimer struct {
	id  uint64
	due time.Duration
	fn  func()
}

// NewManual creates a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{
		timers: make(map[uint64]*manualTimer),
		added:  make(chan struct{}, 1),
	}
}

// AfterFunc schedules fn at now+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{id: m.seq, due: m.now + d, fn: fn}
	m.timers[t.id] = t

	select {
	case m.added <- struct{}{}:
	default:
	}
	return &manualHandle{m: m, id: t.id}
}

// Advance moves the clock forward by d and runs every call that became due,
// including calls scheduled by those calls within the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		delete(m.timers, next.id)
		m.now = next.due
		m.mu.Unlock()

		next.fn()
	}
}

// Now returns the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of scheduled calls that have not fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Delays returns the remaining delay of every pending call, shortest first.
func (m *Manual) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]time.Duration, 0, len(m.timers))
	for _, t := range m.timers {
		out = append(out, t.due-m.now)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WaitPending blocks until at least n calls are pending or timeout elapses.
// It reports whether the condition was met. Used by tests that schedule from
// other goroutines.
func (m *Manual) WaitPending(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.Pending() >= n {
			return true
		}
		select {
		case <-m.added:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return m.Pending() >= n
		}
	}
}

func (m *Manual) nextDueLocked(target time.Duration) *manualTimer {
	var next *manualTimer
	for _, t := range m.timers {
		if t.due > target {
			continue
		}
		if next == nil || t.due < next.due || (t.due == next.due && t.id < next.id) {
			next = t
		}
	}
	return next
}

type manualHandle struct {
	m  *Manual
	id uint64
}

func (h *manualHandle) Cancel() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if _, ok := h.m.timers[h.id]; !ok {
		return false
	}
	delete(h.m.timers, h.id)
	return true
}
