// ABOUTME: Sync engine orchestrating selection, refetch, send, and chain signals
// ABOUTME: One loop goroutine serializes all state changes; results of stale epochs are discarded

package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/coven-groups/internal/chain"
	"github.com/2389/coven-groups/internal/client"
	"github.com/2389/coven-groups/internal/conversation"
	"github.com/2389/coven-groups/internal/dedupe"
	"github.com/2389/coven-groups/internal/mention"
	"github.com/2389/coven-groups/internal/schedule"
	"github.com/2389/coven-groups/internal/store"
)

// Engine errors
var (
	ErrClosed       = errors.New("engine closed")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoGroup      = errors.New("group id is required")
	ErrNoAgent      = errors.New("agent id is required")
)

// Engine defaults
const (
	DefaultSendRefetchDelay = time.Second
	DefaultRefetchRate      = 4
	DefaultRefetchBurst     = 2
	DefaultDedupeTTL        = 10 * time.Second
	DefaultSender           = "user"

	dedupeCapacity = 1024
)

// API is the REST surface the engine needs. *client.Client implements it.
type API interface {
	ListMessages(ctx context.Context, groupID string) ([]store.Message, error)
	SendMessage(ctx context.Context, groupID string, req client.SendRequest) error
	UploadDocument(ctx context.Context, groupID, agentID, filename string, r io.Reader, message string) (client.UploadResult, error)
	StopChain(ctx context.Context, groupID string) error
}

type clientStreams struct {
	c *client.Client
}

func (s clientStreams) OpenStream(ctx context.Context, groupID string) (FrameStream, error) {
	return s.c.OpenStream(ctx, groupID)
}

// ClientStreams adapts a client to a StreamOpener.
func ClientStreams(c *client.Client) StreamOpener {
	return clientStreams{c: c}
}

// Options configures an Engine. Zero values take defaults.
type Options struct {
	API     API
	Streams StreamOpener
	// Scheduler drives debounce, backoff, and delayed refetches.
	Scheduler schedule.Scheduler

	// Sender is the sender name of locally written messages.
	Sender string

	Backoff Backoff
	// MaxRetries bounds reconnect attempts; 0 retries forever.
	MaxRetries int

	ChainDebounce    time.Duration
	SendRefetchDelay time.Duration

	// RefetchRate paces authoritative refetches per second.
	RefetchRate  rate.Limit
	RefetchBurst int

	ReconcileSkew     time.Duration
	PendingStaleAfter time.Duration
	DedupeTTL         time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

type refetchState struct {
	inFlight bool
	queued   bool
}

// Engine keeps the selected group's messages and chain state in sync with
// the backend.
type Engine struct {
	api        API
	conn       *ConnectionManager
	dispatcher *Dispatcher
	store      *store.MessageStore
	tracker    *chain.Tracker
	signals    *chain.Bus
	views      *conversation.Broadcaster[store.View]
	notices    *conversation.Broadcaster[Notice]
	connStates *conversation.Broadcaster[ConnectionState]
	limiter    *rate.Limiter
	sched      schedule.Scheduler
	sender     string
	sendDelay  time.Duration
	now        func() time.Time
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ops      chan func()
	quit     chan struct{}
	loopDone chan struct{}
	closing  sync.Once

	// Owned by the loop goroutine.
	active      string
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc
	refetches   map[string]*refetchState
	timers      map[uint64]schedule.Handle
	timerSeq    uint64

	mu          sync.RWMutex
	activeGroup string
}

// NewEngine creates an engine and starts its loop. Call Close to stop it.
func NewEngine(opts Options) (*Engine, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("creating engine: API is required")
	}
	if opts.Streams == nil {
		return nil, fmt.Errorf("creating engine: stream opener is required")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Real{}
	}
	if opts.Sender == "" {
		opts.Sender = DefaultSender
	}
	if opts.SendRefetchDelay <= 0 {
		opts.SendRefetchDelay = DefaultSendRefetchDelay
	}
	if opts.RefetchRate <= 0 {
		opts.RefetchRate = DefaultRefetchRate
	}
	if opts.RefetchBurst <= 0 {
		opts.RefetchBurst = DefaultRefetchBurst
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		api: opts.API,
		store: store.NewMessageStore(store.Options{
			ReconcileSkew: opts.ReconcileSkew,
			StaleAfter:    opts.PendingStaleAfter,
			Now:           opts.Now,
		}),
		signals:    chain.NewBus(logger),
		views:      conversation.NewBroadcaster[store.View](logger),
		notices:    conversation.NewBroadcaster[Notice](logger),
		connStates: conversation.NewBroadcaster[ConnectionState](logger),
		limiter:    rate.NewLimiter(opts.RefetchRate, opts.RefetchBurst),
		sched:      opts.Scheduler,
		sender:     opts.Sender,
		sendDelay:  opts.SendRefetchDelay,
		now:        opts.Now,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
		ops:        make(chan func()),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		refetches:  make(map[string]*refetchState),
		timers:     make(map[uint64]schedule.Handle),
	}
	e.epochCtx, e.epochCancel = context.WithCancel(ctx)

	e.tracker = chain.NewTracker(opts.Scheduler, e.signals, opts.ChainDebounce, logger)
	e.dispatcher = NewDispatcher(loopSink{e}, dedupe.New(opts.DedupeTTL, dedupeCapacity).WithClock(opts.Now), logger)
	e.conn = NewConnectionManager(ConnOptions{
		Opener:      opts.Streams,
		Scheduler:   opts.Scheduler,
		Backoff:     opts.Backoff,
		MaxRetries:  opts.MaxRetries,
		OnFrame:     e.onFrame,
		OnState:     e.onConnState,
		OnExhausted: e.onExhausted,
		Logger:      logger,
	})

	go e.loop()
	return e, nil
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.quit:
			return
		}
	}
}

// post queues fn on the loop without waiting for it to run.
func (e *Engine) post(ctx context.Context, fn func()) error {
	select {
	case e.ops <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrClosed
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := e.post(ctx, func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-e.loopDone:
		return ErrClosed
	}
}

// SelectGroup makes groupID the active group: everything scheduled for the
// previous group is canceled, its chain state is silently reset, the push
// stream is switched, and an initial snapshot is requested.
func (e *Engine) SelectGroup(ctx context.Context, groupID string) error {
	if groupID == "" {
		return ErrNoGroup
	}
	return e.call(ctx, func() error {
		if e.ctx.Err() != nil {
			return ErrClosed
		}

		prev := e.active
		e.newEpoch()
		if prev != "" && prev != groupID {
			e.tracker.Reset(prev)
		}

		e.active = groupID
		e.mu.Lock()
		e.activeGroup = groupID
		e.mu.Unlock()

		e.logger.Info("group selected", "group_id", groupID, "previous", prev, "epoch", e.epoch)

		// Blocks until the previous reader has exited.
		e.conn.Open(groupID)
		e.requestRefetch(groupID, "selected")
		return nil
	})
}

// newEpoch cancels the work of the current epoch. Loop only.
func (e *Engine) newEpoch() {
	e.epoch++
	e.epochCancel()
	e.epochCtx, e.epochCancel = context.WithCancel(e.ctx)
	for id, h := range e.timers {
		h.Cancel()
		delete(e.timers, id)
	}
	clear(e.refetches)
}

// requestRefetch starts a fetch of groupID or queues one behind the fetch in
// flight. Requests for a group that is not selected are dropped. Loop only.
func (e *Engine) requestRefetch(groupID, reason string) {
	if groupID == "" || groupID != e.active {
		return
	}

	st, ok := e.refetches[groupID]
	if !ok {
		st = &refetchState{}
		e.refetches[groupID] = st
	}
	if st.inFlight {
		st.queued = true
		e.logger.Debug("refetch coalesced", "group_id", groupID, "reason", reason)
		return
	}
	st.inFlight = true

	epoch, ctx := e.epoch, e.epochCtx
	e.logger.Debug("refetch started", "group_id", groupID, "reason", reason, "epoch", epoch)
	go e.fetch(ctx, epoch, groupID)
}

func (e *Engine) fetch(ctx context.Context, epoch uint64, groupID string) {
	var (
		msgs []store.Message
		err  error
	)
	if err = e.limiter.Wait(ctx); err == nil {
		msgs, err = e.api.ListMessages(ctx, groupID)
	}
	_ = e.post(e.ctx, func() { e.finishRefetch(epoch, groupID, msgs, err) })
}

// finishRefetch applies a snapshot if it still belongs to the current epoch.
// Loop only.
func (e *Engine) finishRefetch(epoch uint64, groupID string, msgs []store.Message, err error) {
	if epoch != e.epoch || groupID != e.active {
		e.logger.Debug("discarding stale refetch", "group_id", groupID, "epoch", epoch, "current_epoch", e.epoch)
		return
	}

	st := e.refetches[groupID]
	if st == nil {
		return
	}
	st.inFlight = false

	if err != nil {
		// Keep the stale view; the next trigger retries.
		e.logger.Warn("refetch failed", "group_id", groupID, "error", err)
	} else {
		view := e.store.ApplyAuthoritative(groupID, msgs)
		e.views.Publish(groupID, store.View{GroupID: groupID, Messages: view}, "")
		e.logger.Debug("snapshot applied", "group_id", groupID, "messages", len(view))
	}

	if st.queued {
		st.queued = false
		e.requestRefetch(groupID, "queued")
	}
}

// scheduleRefetch requests a refetch of groupID after d unless the epoch
// changes first. Loop only.
func (e *Engine) scheduleRefetch(groupID string, d time.Duration, reason string) {
	epoch := e.epoch
	e.timerSeq++
	id := e.timerSeq
	e.timers[id] = e.sched.AfterFunc(d, func() {
		_ = e.post(e.ctx, func() {
			delete(e.timers, id)
			if epoch != e.epoch {
				return
			}
			e.requestRefetch(groupID, reason)
		})
	})
}

func (e *Engine) publishView(groupID string) {
	e.views.Publish(groupID, store.View{GroupID: groupID, Messages: e.store.Messages(groupID)}, "")
}

// Send appends content optimistically, posts it to agentID, and schedules a
// refetch once the backend accepted it. On failure the optimistic message is
// kept as failed, a notice is published, and the error is returned.
func (e *Engine) Send(ctx context.Context, groupID, agentID, content string) (store.PendingHandle, error) {
	content = strings.TrimSpace(content)
	switch {
	case groupID == "":
		return store.PendingHandle{}, ErrNoGroup
	case agentID == "":
		return store.PendingHandle{}, ErrNoAgent
	case content == "":
		return store.PendingHandle{}, ErrEmptyMessage
	}

	var h store.PendingHandle
	if err := e.call(ctx, func() error {
		h = e.store.AppendOptimistic(groupID, e.sender, agentID, content)
		e.publishView(groupID)
		return nil
	}); err != nil {
		return store.PendingHandle{}, err
	}

	sendErr := e.api.SendMessage(ctx, groupID, client.SendRequest{
		AgentID: agentID,
		Message: content,
		Sender:  e.sender,
	})

	// Resolve even if ctx was canceled meanwhile.
	err := e.call(e.ctx, func() error {
		if sendErr != nil {
			e.store.ResolvePending(h, false, sendErr.Error())
			e.publishView(groupID)
			e.notices.Publish(groupID, Notice{
				Kind:    NoticeSendFailed,
				GroupID: groupID,
				Agent:   agentID,
				Text:    sendErr.Error(),
				Time:    e.now(),
			}, "")
			return nil
		}
		e.store.ResolvePending(h, true, "")
		e.publishView(groupID)
		e.scheduleRefetch(groupID, e.sendDelay, "sent")
		return nil
	})
	if sendErr != nil {
		e.logger.Warn("send failed", "group_id", groupID, "agent", agentID, "error", sendErr)
		return h, fmt.Errorf("sending message: %w", sendErr)
	}
	if err != nil {
		return h, err
	}
	return h, nil
}

// Dismiss removes a pending message, typically a failed one.
func (e *Engine) Dismiss(ctx context.Context, h store.PendingHandle) error {
	return e.call(ctx, func() error {
		if !e.store.Discard(h) {
			return store.ErrNotFound
		}
		e.publishView(h.GroupID)
		return nil
	})
}

// UploadDocument uploads a file for agentID and refetches afterwards, since
// the backend records the upload as messages.
func (e *Engine) UploadDocument(ctx context.Context, groupID, agentID, filename string, r io.Reader, message string) (client.UploadResult, error) {
	if groupID == "" {
		return client.UploadResult{}, ErrNoGroup
	}
	if agentID == "" {
		return client.UploadResult{}, ErrNoAgent
	}

	res, err := e.api.UploadDocument(ctx, groupID, agentID, filename, r, message)
	if err != nil {
		e.notices.Publish(groupID, Notice{
			Kind:    NoticeUploadFailed,
			GroupID: groupID,
			Agent:   agentID,
			Text:    err.Error(),
			Time:    e.now(),
		}, "")
		return client.UploadResult{}, fmt.Errorf("uploading document: %w", err)
	}

	_ = e.post(e.ctx, func() { e.requestRefetch(groupID, "uploaded") })
	return res, nil
}

// StopChain stops the agent chain of groupID and returns it to Idle.
func (e *Engine) StopChain(ctx context.Context, groupID string) error {
	if groupID == "" {
		return ErrNoGroup
	}
	if err := e.api.StopChain(ctx, groupID); err != nil {
		return fmt.Errorf("stopping chain: %w", err)
	}
	return e.call(e.ctx, func() error {
		e.tracker.ForceIdle(groupID)
		e.requestRefetch(groupID, "stopped")
		return nil
	})
}

// Refresh requests a refetch of the active group.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.call(ctx, func() error {
		if e.active == "" {
			return ErrNoGroup
		}
		e.requestRefetch(e.active, "refresh")
		return nil
	})
}

// SubscribeMessages streams full message views of groupID until ctx ends.
func (e *Engine) SubscribeMessages(ctx context.Context, groupID string) <-chan store.View {
	ch, _ := e.views.Subscribe(ctx, groupID)
	return ch
}

// SubscribeSignals streams chain signals of groupID until ctx ends.
func (e *Engine) SubscribeSignals(ctx context.Context, groupID string) <-chan chain.Signal {
	ch, _ := e.signals.Subscribe(ctx, groupID)
	return ch
}

// SubscribeNotices streams notices of groupID until ctx ends.
func (e *Engine) SubscribeNotices(ctx context.Context, groupID string) <-chan Notice {
	ch, _ := e.notices.Subscribe(ctx, groupID)
	return ch
}

// SubscribeConnection streams connection states of groupID until ctx ends.
func (e *Engine) SubscribeConnection(ctx context.Context, groupID string) <-chan ConnectionState {
	ch, _ := e.connStates.Subscribe(ctx, groupID)
	return ch
}

// Messages returns the rendered message list of groupID.
func (e *Engine) Messages(groupID string) []store.Message {
	return e.store.Messages(groupID)
}

// ChainState returns the chain state of groupID.
func (e *Engine) ChainState(groupID string) chain.State {
	return e.tracker.State(groupID)
}

// ConnectionState returns the stream state of groupID.
func (e *Engine) ConnectionState(groupID string) ConnectionState {
	return e.conn.State(groupID)
}

// ActiveGroup returns the selected group, or "" before the first selection.
func (e *Engine) ActiveGroup() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeGroup
}

// Close closes the stream, cancels timers and fetches, stops the loop, and
// closes every subscription. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closing.Do(func() {
		e.cancel()
		e.conn.Close()

		close(e.quit)
		<-e.loopDone

		// The loop is gone; its state is ours now.
		for id, h := range e.timers {
			h.Cancel()
			delete(e.timers, id)
		}
		if e.active != "" {
			e.tracker.Reset(e.active)
		}
		e.tracker.Close()

		e.views.Close()
		e.notices.Close()
		e.connStates.Close()
		e.signals.Close()

		e.logger.Info("engine closed")
	})
	return nil
}

func (e *Engine) onFrame(ctx context.Context, groupID string, raw []byte) {
	_ = e.post(ctx, func() {
		if groupID != e.active {
			return
		}
		e.dispatcher.Dispatch(groupID, raw)
	})
}

// onConnState runs on connection goroutines and must not wait for the loop.
func (e *Engine) onConnState(st ConnectionState) {
	e.connStates.Publish(st.GroupID, st, "")

	if st.Status == StatusOpen {
		// Catch up on anything missed while disconnected.
		go func() {
			_ = e.post(e.ctx, func() { e.requestRefetch(st.GroupID, "stream_open") })
		}()
	}
}

func (e *Engine) onExhausted(groupID string, err error) {
	e.notices.Publish(groupID, Notice{
		Kind:    NoticeConnectionLost,
		GroupID: groupID,
		Text:    fmt.Sprintf("live updates stopped: %v", err),
		Time:    e.now(),
	}, "")
}

// loopSink adapts the engine to the dispatcher. Its methods run on the loop.
type loopSink struct {
	e *Engine
}

func (s loopSink) RequestRefetch(groupID, reason string) {
	s.e.requestRefetch(groupID, reason)
}

func (s loopSink) ObserveAgentReply(groupID string, res mention.Result) {
	s.e.tracker.Observe(groupID, res)
}

func (s loopSink) Notify(n Notice) {
	s.e.notices.Publish(n.GroupID, n, "")
}
