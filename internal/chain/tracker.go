// ABOUTME: Per-group Idle/Loading state machine driven by agent replies
// ABOUTME: Debounces Loading through a cancelable scheduler; Idle is immediate

package chain

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-groups/internal/mention"
	"github.com/2389/coven-groups/internal/schedule"
)

// DefaultDebounce delays Loading so the reply that triggered it renders
// first.
const DefaultDebounce = 500 * time.Millisecond

// Publisher receives the signals a Tracker emits.
type Publisher interface {
	Publish(sig Signal)
}

// Tracker holds the chain state of every group.
type Tracker struct {
	// pubMu is taken before mu by every transition that publishes, so
	// subscribers see signals in the order the state changed.
	pubMu    sync.Mutex
	mu       sync.Mutex
	states   map[string]State
	pending  map[string]*debounce
	sched    schedule.Scheduler
	pub      Publisher
	debounce time.Duration
	logger   *slog.Logger
}

type debounce struct {
	handle schedule.Handle
}

// NewTracker creates a tracker. A zero debounce uses DefaultDebounce.
func NewTracker(sched schedule.Scheduler, pub Publisher, debounceDelay time.Duration, logger *slog.Logger) *Tracker {
	if debounceDelay <= 0 {
		debounceDelay = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		states:   make(map[string]State),
		pending:  make(map[string]*debounce),
		sched:    sched,
		pub:      pub,
		debounce: debounceDelay,
		logger:   logger.With("component", "chain"),
	}
}

// Observe feeds the mention classification of a new agent reply.
func (t *Tracker) Observe(groupID string, res mention.Result) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	t.cancelLocked(groupID)

	if res.IsAgent() {
		d := &debounce{}
		t.pending[groupID] = d
		d.handle = t.sched.AfterFunc(t.debounce, func() { t.fire(groupID, d, res.Name) })
		t.mu.Unlock()

		t.logger.Debug("chain continues",
			"group_id", groupID,
			"next_agent", res.Name)
		return
	}

	t.states[groupID] = Idle
	t.mu.Unlock()

	t.logger.Debug("chain returned to user",
		"group_id", groupID,
		"mention", res.String())
	t.pub.Publish(Signal{State: Idle, GroupID: groupID})
}

func (t *Tracker) fire(groupID string, d *debounce, agent string) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	if t.pending[groupID] != d {
		// Superseded or reset after the timer fired but before we got the lock.
		t.mu.Unlock()
		return
	}
	delete(t.pending, groupID)
	t.states[groupID] = Loading
	t.mu.Unlock()

	t.pub.Publish(Signal{State: Loading, GroupID: groupID, Agent: agent})
}

// Reset silently returns groupID to Idle and cancels a pending Loading.
func (t *Tracker) Reset(groupID string) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked(groupID)
	delete(t.states, groupID)
}

// ForceIdle returns groupID to Idle and publishes it.
func (t *Tracker) ForceIdle(groupID string) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	t.cancelLocked(groupID)
	t.states[groupID] = Idle
	t.mu.Unlock()

	t.pub.Publish(Signal{State: Idle, GroupID: groupID})
}

// State returns the current chain state of groupID.
func (t *Tracker) State(groupID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[groupID]
}

// Pending reports whether a Loading transition is scheduled for groupID.
func (t *Tracker) Pending(groupID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[groupID]
	return ok
}

// Close cancels every pending transition.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for groupID := range t.pending {
		t.cancelLocked(groupID)
	}
}

func (t *Tracker) cancelLocked(groupID string) {
	if d, ok := t.pending[groupID]; ok {
		if d.handle != nil {
			d.handle.Cancel()
		}
		delete(t.pending, groupID)
	}
}
