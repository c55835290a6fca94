// ABOUTME: ConnectionManager owning the single push stream of the selected group
// ABOUTME: Reconnects with backoff on transport errors; stale timers are no-ops

package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-groups/internal/schedule"
)

// Status is the connection status of a group's stream.
type Status string

// Connection statuses
const (
	StatusClosed     Status = "closed"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusError      Status = "error"
)

// errStreamEnded marks a stream the server closed cleanly.
var errStreamEnded = errors.New("stream ended by server")

// ConnectionState is the stream state of one group.
type ConnectionState struct {
	GroupID    string
	Status     Status
	RetryCount int
	LastError  string
}

// FrameStream yields raw frame payloads until it fails or is closed.
type FrameStream interface {
	Next() ([]byte, error)
	Close() error
}

// StreamOpener dials the push stream of a group.
type StreamOpener interface {
	OpenStream(ctx context.Context, groupID string) (FrameStream, error)
}

// FrameHandler receives every frame read from the stream of groupID. ctx is
// canceled when the connection is closed or replaced; handlers that block
// must give up when it is.
type FrameHandler func(ctx context.Context, groupID string, raw []byte)

// ConnOptions configures a ConnectionManager.
type ConnOptions struct {
	Opener    StreamOpener
	Scheduler schedule.Scheduler
	Backoff   Backoff
	// MaxRetries bounds consecutive reconnect attempts; 0 retries forever.
	MaxRetries int

	OnFrame FrameHandler
	// OnState observes every state change. It must not block.
	OnState func(ConnectionState)
	// OnExhausted is called once when MaxRetries consecutive attempts failed.
	OnExhausted func(groupID string, err error)

	Logger *slog.Logger
}

// ConnectionManager keeps at most one push stream open. Opening a stream
// for a group first closes the previous one and waits for its reader to
// exit.
type ConnectionManager struct {
	opener      StreamOpener
	sched       schedule.Scheduler
	backoff     Backoff
	maxRetries  int
	onFrame     FrameHandler
	onState     func(ConnectionState)
	onExhausted func(string, error)
	logger      *slog.Logger

	// opMu serializes Open and Close.
	opMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	groupID string
	cancel  context.CancelFunc
	ctx     context.Context
	done    chan struct{} // closed when the current reader exits
	timer   schedule.Handle
	states  map[string]ConnectionState
}

// NewConnectionManager creates a manager with no open stream.
func NewConnectionManager(opts ConnOptions) *ConnectionManager {
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Real{}
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func(context.Context, string, []byte) {}
	}
	if opts.OnState == nil {
		opts.OnState = func(ConnectionState) {}
	}
	if opts.OnExhausted == nil {
		opts.OnExhausted = func(string, error) {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &ConnectionManager{
		opener:      opts.Opener,
		sched:       opts.Scheduler,
		backoff:     opts.Backoff.withDefaults(),
		maxRetries:  opts.MaxRetries,
		onFrame:     opts.OnFrame,
		onState:     opts.OnState,
		onExhausted: opts.OnExhausted,
		logger:      opts.Logger.With("component", "connection"),
		states:      make(map[string]ConnectionState),
	}
}

// Open closes any current stream, waits for its reader to exit, and starts
// connecting to groupID.
func (m *ConnectionManager) Open(groupID string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.closeCurrent()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.groupID = groupID
	m.ctx, m.cancel = context.WithCancel(context.Background())
	ctx := m.ctx
	done := make(chan struct{})
	m.done = done
	st := ConnectionState{GroupID: groupID, Status: StatusConnecting}
	m.states[groupID] = st
	m.mu.Unlock()

	m.logger.Info("opening stream", "group_id", groupID)
	m.onState(st)

	go m.run(ctx, gen, groupID, nil, done)
}

// Close closes the current stream, cancels any pending reconnect, and waits
// for the reader to exit. It is safe to call when nothing is open.
func (m *ConnectionManager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.closeCurrent()
}

func (m *ConnectionManager) closeCurrent() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}

	// Bumping gen turns every callback of the old session into a no-op.
	m.gen++
	m.cancel()
	m.cancel = nil
	m.ctx = nil
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
	groupID := m.groupID
	m.groupID = ""
	done := m.done
	m.done = nil
	st := ConnectionState{GroupID: groupID, Status: StatusClosed}
	m.states[groupID] = st
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	m.logger.Info("stream closed", "group_id", groupID)
	m.onState(st)
}

// State returns the state of groupID; unknown groups are closed.
func (m *ConnectionManager) State(groupID string) ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[groupID]; ok {
		return st
	}
	return ConnectionState{GroupID: groupID, Status: StatusClosed}
}

// States returns the state of every group seen so far, sorted by group id.
func (m *ConnectionManager) States() []ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConnectionState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// Current returns the group whose stream is open or being retried.
func (m *ConnectionManager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupID
}

// run dials and reads one stream attempt. prev is the reader of the
// previous attempt; it must exit before this one dials.
func (m *ConnectionManager) run(ctx context.Context, gen uint64, groupID string, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	stream, err := m.opener.OpenStream(ctx, groupID)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(gen, groupID, err)
		}
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	if !m.transition(gen, groupID, func(st *ConnectionState) {
		st.Status = StatusOpen
		st.RetryCount = 0
		st.LastError = ""
	}) {
		return
	}
	m.logger.Info("stream open", "group_id", groupID)

	for {
		raw, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = errStreamEnded
			}
			m.fail(gen, groupID, err)
			return
		}
		m.onFrame(ctx, groupID, raw)
	}
}

// transition applies fn to the state of groupID if gen is still current and
// reports whether it did.
func (m *ConnectionManager) transition(gen uint64, groupID string, fn func(*ConnectionState)) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	st := m.states[groupID]
	st.GroupID = groupID
	fn(&st)
	m.states[groupID] = st
	m.mu.Unlock()

	m.onState(st)
	return true
}

// fail records a transport error and schedules the next attempt.
func (m *ConnectionManager) fail(gen uint64, groupID string, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	st := m.states[groupID]
	st.Status = StatusError
	st.RetryCount++
	st.LastError = cause.Error()
	m.states[groupID] = st

	exhausted := m.maxRetries > 0 && st.RetryCount > m.maxRetries
	delay := m.backoff.Delay(st.RetryCount)
	if !exhausted {
		done := m.done
		m.timer = m.sched.AfterFunc(delay, func() { m.reconnect(gen, groupID, done) })
	}
	m.mu.Unlock()

	m.onState(st)

	if exhausted {
		m.logger.Error("giving up on stream",
			"group_id", groupID,
			"attempts", st.RetryCount-1,
			"error", cause)
		m.onExhausted(groupID, cause)
		return
	}

	m.logger.Warn("stream failed, reconnecting",
		"group_id", groupID,
		"retry", st.RetryCount,
		"delay", delay,
		"error", cause)
}

// reconnect starts the next attempt of session gen. A timer that outlived
// its session does nothing.
func (m *ConnectionManager) reconnect(gen uint64, groupID string, prev chan struct{}) {
	m.mu.Lock()
	if gen != m.gen || m.ctx == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx := m.ctx
	done := make(chan struct{})
	m.done = done

	st := m.states[groupID]
	st.Status = StatusConnecting
	m.states[groupID] = st
	m.mu.Unlock()

	m.onState(st)

	go m.run(ctx, gen, groupID, prev, done)
}
