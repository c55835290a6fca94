// ABOUTME: Test doubles for the realtime package: streams, opener, REST API, sink
// ABOUTME: Fakes record calls and let tests push frames or inject failures

package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-groups/internal/client"
	"github.com/2389/coven-groups/internal/mention"
	"github.com/2389/coven-groups/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream is a FrameStream fed by tests. push blocks until the reader
// takes the frame.
type fakeStream struct {
	groupID string
	frames  chan []byte
	errs    chan error
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

func newFakeStream(groupID string, onClose func()) *fakeStream {
	return &fakeStream{
		groupID: groupID,
		frames:  make(chan []byte),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

func (s *fakeStream) Next() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, errors.New("use of closed stream")
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case s.frames <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatalf("stream %s: frame not consumed", s.groupID)
	}
}

// drop simulates a transport failure.
func (s *fakeStream) drop(err error) {
	s.errs <- err
}

// fakeOpener hands out fakeStreams and tracks how many are live at once.
type fakeOpener struct {
	mu       sync.Mutex
	opens    []string
	failNext int
	failAll  bool
	live     int
	maxLive  int
	opened   chan *fakeStream
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan *fakeStream, 32)}
}

func (o *fakeOpener) OpenStream(ctx context.Context, groupID string) (FrameStream, error) {
	o.mu.Lock()
	o.opens = append(o.opens, groupID)
	if o.failAll || o.failNext > 0 {
		if o.failNext > 0 {
			o.failNext--
		}
		o.mu.Unlock()
		return nil, fmt.Errorf("dial %s: connection refused", groupID)
	}

	s := newFakeStream(groupID, func() {
		o.mu.Lock()
		o.live--
		o.mu.Unlock()
	})
	o.live++
	o.maxLive = max(o.maxLive, o.live)
	o.mu.Unlock()

	o.opened <- s
	return s, nil
}

func (o *fakeOpener) setFailNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failNext = n
}

func (o *fakeOpener) openedGroups() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opens...)
}

func (o *fakeOpener) liveCount() (live, maxLive int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live, o.maxLive
}

func (o *fakeOpener) waitOpened(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-o.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

// fakeAPI is an in-memory backend.
type fakeAPI struct {
	mu        sync.Mutex
	messages  map[string][]store.Message
	gates     map[string]chan struct{}
	listCalls map[string]int
	sent      []client.SendRequest
	sendErr   error
	uploadErr error
	uploads   []string
	stopped   []string
	nextID    int
	now       func() time.Time
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages:  make(map[string][]store.Message),
		gates:     make(map[string]chan struct{}),
		listCalls: make(map[string]int),
		now:       time.Now,
	}
}

func (a *fakeAPI) ListMessages(ctx context.Context, groupID string) ([]store.Message, error) {
	a.mu.Lock()
	a.listCalls[groupID]++
	gate := a.gates[groupID]
	a.mu.Unlock()

	// A gated response arrives late and ignores cancellation.
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]store.Message(nil), a.messages[groupID]...), nil
}

// appendLocked adds a server message.
func (a *fakeAPI) appendLocked(groupID, sender string, role store.Role, content string) {
	a.messages[groupID] = append(a.messages[groupID], store.Message{
		ID:        strconv.Itoa(a.nextID),
		GroupID:   groupID,
		Sender:    sender,
		Role:      role,
		Content:   content,
		CreatedAt: a.now(),
	})
	a.nextID++
}

func (a *fakeAPI) addMessage(groupID, sender string, role store.Role, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appendLocked(groupID, sender, role, content)
}

func (a *fakeAPI) SendMessage(ctx context.Context, groupID string, req client.SendRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, req)
	// The backend prefixes the target agent in multi-agent groups.
	a.appendLocked(groupID, req.Sender, store.RoleUser, "@"+req.AgentID+" "+req.Message)
	return nil
}

func (a *fakeAPI) UploadDocument(ctx context.Context, groupID, agentID, filename string, r io.Reader, message string) (client.UploadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploadErr != nil {
		return client.UploadResult{}, a.uploadErr
	}
	data, _ := io.ReadAll(r)
	a.uploads = append(a.uploads, filename)
	a.appendLocked(groupID, "user", store.RoleUser, "@"+agentID+" uploaded "+filename)
	return client.UploadResult{DocumentID: "doc-1", Filename: filename, AgentID: agentID, FileSize: int64(len(data))}, nil
}

func (a *fakeAPI) StopChain(ctx context.Context, groupID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = append(a.stopped, groupID)
	return nil
}

func (a *fakeAPI) gate(groupID string) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan struct{})
	a.gates[groupID] = ch
	return ch
}

func (a *fakeAPI) ungate(groupID string) {
	a.mu.Lock()
	ch := a.gates[groupID]
	delete(a.gates, groupID)
	a.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (a *fakeAPI) calls(groupID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls[groupID]
}

// recordingSink captures what a Dispatcher emits.
type recordingSink struct {
	refetches []string
	observed  []mention.Result
	notices   []Notice
}

func (s *recordingSink) RequestRefetch(groupID, reason string) {
	s.refetches = append(s.refetches, groupID+":"+reason)
}

func (s *recordingSink) ObserveAgentReply(groupID string, res mention.Result) {
	s.observed = append(s.observed, res)
}

func (s *recordingSink) Notify(n Notice) {
	s.notices = append(s.notices, n)
}

func messageFrame(groupID, role, content string, ts float64) string {
	return fmt.Sprintf(`{"type":"message","group_id":%q,"agent_key":"bot","timestamp":%v,"payload":{"sender":"bot","role":%q,"content":%q}}`,
		groupID, ts, role, content)
}

func requireEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
