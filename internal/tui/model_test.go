// ABOUTME: Tests for the chat model and input parsing
// ABOUTME: Drives Update with synthetic tea messages against a fake engine

package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-groups/internal/chain"
	"github.com/2389/coven-groups/internal/realtime"
	"github.com/2389/coven-groups/internal/store"
)

type sent struct {
	group, agent, content string
}

type fakeEngine struct {
	mu        sync.Mutex
	initial   []store.Message
	sends     []sent
	sendErr   error
	stopped   []string
	refreshes int
}

func (f *fakeEngine) Send(_ context.Context, groupID, agentID, content string) (store.PendingHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{groupID, agentID, content})
	return store.PendingHandle{GroupID: groupID, TempID: "temp-1"}, f.sendErr
}

func (f *fakeEngine) StopChain(_ context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, groupID)
	return nil
}

func (f *fakeEngine) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeEngine) Messages(string) []store.Message { return f.initial }

func (f *fakeEngine) SubscribeMessages(context.Context, string) <-chan store.View {
	return make(chan store.View)
}

func (f *fakeEngine) SubscribeSignals(context.Context, string) <-chan chain.Signal {
	return make(chan chain.Signal)
}

func (f *fakeEngine) SubscribeNotices(context.Context, string) <-chan realtime.Notice {
	return make(chan realtime.Notice)
}

func (f *fakeEngine) SubscribeConnection(context.Context, string) <-chan realtime.ConnectionState {
	return make(chan realtime.ConnectionState)
}

func newTestModel(t *testing.T, eng *fakeEngine, opts Options) Model {
	t.Helper()
	if opts.Group.ID == "" {
		opts.Group = store.Group{ID: "g1", Name: "Research"}
	}
	m := New(t.Context(), eng, opts)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func submitLine(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		line   string
		target string
		want   command
	}{
		{"@writer draft the intro", "", command{kind: cmdSend, agent: "writer", content: "draft the intro"}},
		{"hello there", "critic", command{kind: cmdSend, agent: "critic", content: "hello there"}},
		{"hello there", "", command{kind: cmdSend, content: "hello there"}},
		{"please ask @writer", "critic", command{kind: cmdSend, agent: "critic", content: "please ask @writer"}},
		{"/agent @writer", "", command{kind: cmdTarget, agent: "writer"}},
		{"/to critic", "", command{kind: cmdTarget, agent: "critic"}},
		{"/stop", "", command{kind: cmdStop}},
		{"/refresh", "", command{kind: cmdRefresh}},
		{"/q", "", command{kind: cmdQuit}},
		{"/help", "", command{kind: cmdHelp}},
		{"/dance now", "", command{kind: cmdUnknown, content: "/dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseInput(tt.line, tt.target))
		})
	}
}

func TestModel_InitialView(t *testing.T) {
	eng := &fakeEngine{initial: []store.Message{
		{ID: "1", Sender: "user", Role: store.RoleUser, Content: "@researcher go", CreatedAt: time.Now()},
		{ID: "2", Sender: "researcher", Role: store.RoleAgent, Content: "on it", CreatedAt: time.Now()},
	}}
	m := newTestModel(t, eng, Options{Agents: []store.Agent{{Key: "researcher"}}})

	view := m.View()
	assert.Contains(t, view, "Research")
	assert.Contains(t, view, "to @researcher")
	assert.Contains(t, view, "on it")
}

func TestModel_SendAddressedMessage(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestModel(t, eng, Options{})

	m, cmd := submitLine(t, m, "@writer draft it")
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())

	msg := cmd()
	assert.Equal(t, actionMsg{}, msg)
	assert.Equal(t, []sent{{"g1", "writer", "draft it"}}, eng.sends)
}

func TestModel_SendUsesDefaultTarget(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestModel(t, eng, Options{Target: "critic"})

	_, cmd := submitLine(t, m, "review please")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []sent{{"g1", "critic", "review please"}}, eng.sends)
}

func TestModel_SendWithoutTarget(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestModel(t, eng, Options{})

	m, cmd := submitLine(t, m, "anyone there?")
	assert.Nil(t, cmd)
	assert.Contains(t, m.statusLine(), "no agent selected")
	assert.Empty(t, eng.sends)
}

func TestModel_SendErrorShown(t *testing.T) {
	eng := &fakeEngine{sendErr: errors.New("backend unavailable")}
	m := newTestModel(t, eng, Options{Target: "critic"})

	m, cmd := submitLine(t, m, "hi")
	next, _ := m.Update(cmd())
	assert.Contains(t, next.(Model).statusLine(), "backend unavailable")
}

func TestModel_TargetCommand(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{})

	m, cmd := submitLine(t, m, "/agent writer")
	assert.Nil(t, cmd)
	assert.Equal(t, "writer", m.target)
	assert.Contains(t, m.View(), "to @writer")
}

func TestModel_StopAndRefresh(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestModel(t, eng, Options{})

	m, cmd := submitLine(t, m, "/stop")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"g1"}, eng.stopped)

	_, cmd = submitLine(t, m, "/refresh")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, eng.refreshes)
}

func TestModel_ChainIndicator(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{})

	next, cmd := m.Update(signalMsg{State: chain.Loading, GroupID: "g1", Agent: "dataAgent"})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.statusLine(), "@dataAgent working")

	next, _ = m.Update(signalMsg{State: chain.Idle, GroupID: "g1"})
	m = next.(Model)
	assert.NotContains(t, m.statusLine(), "working")
}

func TestModel_ViewUpdates(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{})

	next, cmd := m.Update(viewMsg{GroupID: "g1", Messages: []store.Message{
		{ID: "temp-1", Sender: "user", Role: store.RoleUser, Content: "first", Status: store.StatusSending, CreatedAt: time.Now()},
		{ID: "temp-2", Sender: "user", Role: store.RoleUser, Content: "second", Status: store.StatusFailed, Err: "boom", CreatedAt: time.Now()},
	}})
	m = next.(Model)
	assert.NotNil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "(sending)")
	assert.Contains(t, view, "(failed: boom)")
}

func TestModel_Notices(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{})

	next, _ := m.Update(noticeMsg{Kind: realtime.NoticeUserMention, GroupID: "g1", Agent: "critic", Text: "@user done"})
	assert.Contains(t, next.(Model).statusLine(), "@critic needs you: @user done")

	next, _ = m.Update(noticeMsg{Kind: realtime.NoticeConnectionLost, GroupID: "g1", Text: "live updates stopped"})
	assert.Contains(t, next.(Model).statusLine(), "live updates stopped")
}

func TestModel_ConnectionStatus(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{})

	next, _ := m.Update(connMsg{GroupID: "g1", Status: realtime.StatusOpen})
	assert.Contains(t, next.(Model).View(), "[open]")
}

func TestModel_Quit(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{})

	next, cmd := submitLine(t, m, "/quit")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, next.View())
}

func TestWrap(t *testing.T) {
	assert.Equal(t, "the quick\nbrown fox", wrap("the quick brown fox", 10))
	assert.Equal(t, "abcdefghij\nkl", wrap("abcdefghijkl", 10))
	assert.Equal(t, "short\nlines", wrap("short\nlines", 10))
}

func TestRenderMessages_Roles(t *testing.T) {
	out := renderMessages([]store.Message{
		{ID: "1", Sender: "system", Role: store.RoleSystem, Content: "chain stopped"},
	}, 0)
	assert.True(t, strings.Contains(out, "chain stopped"))
}

func TestModel_TargetCommandListsMembers(t *testing.T) {
	m := newTestModel(t, &fakeEngine{}, Options{Agents: []store.Agent{{Key: "writer"}, {Key: "critic"}}})

	m, _ = submitLine(t, m, "/agent")
	assert.Contains(t, m.statusLine(), "target: @writer, members: @writer @critic")
}
