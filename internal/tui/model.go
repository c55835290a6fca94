// ABOUTME: Bubble Tea model for live chat in one group
// ABOUTME: Engine views, chain signals, notices, and connection states arrive as tea messages

package tui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389/coven-groups/internal/chain"
	"github.com/2389/coven-groups/internal/realtime"
	"github.com/2389/coven-groups/internal/store"
)

// Engine is the part of the sync engine the chat view drives.
type Engine interface {
	Send(ctx context.Context, groupID, agentID, content string) (store.PendingHandle, error)
	StopChain(ctx context.Context, groupID string) error
	Refresh(ctx context.Context) error
	Messages(groupID string) []store.Message
	SubscribeMessages(ctx context.Context, groupID string) <-chan store.View
	SubscribeSignals(ctx context.Context, groupID string) <-chan chain.Signal
	SubscribeNotices(ctx context.Context, groupID string) <-chan realtime.Notice
	SubscribeConnection(ctx context.Context, groupID string) <-chan realtime.ConnectionState
}

type (
	viewMsg     store.View
	signalMsg   chain.Signal
	noticeMsg   realtime.Notice
	connMsg     realtime.ConnectionState
	closedMsg   struct{}
	actionMsg   struct{ err error }
	subscribers struct {
		views   <-chan store.View
		signals <-chan chain.Signal
		notices <-chan realtime.Notice
		conn    <-chan realtime.ConnectionState
	}
)

// Model is the chat screen of one group.
type Model struct {
	ctx      context.Context
	engine   Engine
	group    store.Group
	agents   []store.Agent
	target   string
	subs     subscribers
	bell     bool
	ready    bool
	width    int
	height   int
	vp       viewport.Model
	input    textinput.Model
	spin     spinner.Model
	msgs     []store.Message
	chain    chain.Signal
	conn     realtime.Status
	notice   string
	quitting bool
}

// Options configures a Model.
type Options struct {
	Group  store.Group
	Agents []store.Agent
	// Target is the default agent for messages without a leading mention.
	Target string
	// Bell rings the terminal bell on user mentions that ask for sound.
	Bell bool
}

// New creates the chat model. Subscriptions end when ctx does.
func New(ctx context.Context, engine Engine, opts Options) Model {
	in := textinput.New()
	in.Placeholder = "@agent message, or /help"
	in.Prompt = "> "
	in.CharLimit = 0
	in.Width = 60
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	target := opts.Target
	if target == "" && len(opts.Agents) > 0 {
		target = opts.Agents[0].Key
	}

	groupID := opts.Group.ID
	return Model{
		ctx:    ctx,
		engine: engine,
		group:  opts.Group,
		agents: opts.Agents,
		target: target,
		bell:   opts.Bell,
		subs: subscribers{
			views:   engine.SubscribeMessages(ctx, groupID),
			signals: engine.SubscribeSignals(ctx, groupID),
			notices: engine.SubscribeNotices(ctx, groupID),
			conn:    engine.SubscribeConnection(ctx, groupID),
		},
		input: in,
		spin:  s,
		msgs:  engine.Messages(groupID),
		conn:  realtime.StatusConnecting,
	}
}

func listen[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return wrap(v)
	}
}

func (m Model) waitView() tea.Cmd {
	return listen(m.subs.views, func(v store.View) tea.Msg { return viewMsg(v) })
}

func (m Model) waitSignal() tea.Cmd {
	return listen(m.subs.signals, func(s chain.Signal) tea.Msg { return signalMsg(s) })
}

func (m Model) waitNotice() tea.Cmd {
	return listen(m.subs.notices, func(n realtime.Notice) tea.Msg { return noticeMsg(n) })
}

func (m Model) waitConn() tea.Cmd {
	return listen(m.subs.conn, func(c realtime.ConnectionState) tea.Msg { return connMsg(c) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitView(), m.waitSignal(), m.waitNotice(), m.waitConn())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-4, 10)
		vpHeight := max(msg.Height-4, 3)
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case viewMsg:
		m.msgs = msg.Messages
		m.refreshViewport()
		return m, m.waitView()

	case signalMsg:
		m.chain = chain.Signal(msg)
		cmds = append(cmds, m.waitSignal())
		if m.chain.State == chain.Loading {
			cmds = append(cmds, m.spin.Tick)
		}
		return m, tea.Batch(cmds...)

	case noticeMsg:
		m.notice = formatNotice(realtime.Notice(msg))
		cmds = append(cmds, m.waitNotice())
		if m.bell && msg.Kind == realtime.NoticeUserMention && msg.Sound {
			cmds = append(cmds, ringBell)
		}
		return m, tea.Batch(cmds...)

	case connMsg:
		m.conn = msg.Status
		return m, m.waitConn()

	case actionMsg:
		if msg.err != nil {
			m.notice = failedStyle.Render(msg.err.Error())
		}
		return m, nil

	case closedMsg:
		return m, nil

	case spinner.TickMsg:
		if m.chain.State != chain.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	m.input.Reset()

	c := parseInput(line, m.target)
	groupID := m.group.ID

	switch c.kind {
	case cmdQuit:
		m.quitting = true
		return m, tea.Quit
	case cmdHelp:
		m.notice = helpText
		return m, nil
	case cmdUnknown:
		m.notice = failedStyle.Render("unknown command " + c.content)
		return m, nil
	case cmdTarget:
		if c.agent == "" {
			keys := make([]string, 0, len(m.agents))
			for _, a := range m.agents {
				keys = append(keys, "@"+a.Key)
			}
			m.notice = "target: " + m.targetLabel() + ", members: " + strings.Join(keys, " ")
			return m, nil
		}
		m.target = c.agent
		m.notice = "sending to @" + c.agent
		return m, nil
	case cmdStop:
		m.notice = "stopping chain"
		return m, m.action(func(ctx context.Context) error { return m.engine.StopChain(ctx, groupID) })
	case cmdRefresh:
		return m, m.action(func(ctx context.Context) error { return m.engine.Refresh(ctx) })
	}

	if c.agent == "" {
		m.notice = failedStyle.Render("no agent selected, use @agent or /agent <key>")
		return m, nil
	}
	if c.content == "" {
		return m, nil
	}
	m.notice = ""
	return m, m.action(func(ctx context.Context) error {
		_, err := m.engine.Send(ctx, groupID, c.agent, c.content)
		return err
	})
}

// action runs fn off the update loop; the optimistic view arrives through
// the message subscription.
func (m Model) action(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{err: fn(ctx)}
	}
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.vp.AtBottom()
	m.vp.SetContent(renderMessages(m.msgs, m.width))
	if atBottom {
		m.vp.GotoBottom()
	}
}

func (m Model) targetLabel() string {
	if m.target == "" {
		return "none"
	}
	return "@" + m.target
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading " + m.group.Name + "..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title()))
	b.WriteString(" ")
	b.WriteString(statusStyle.Render(fmt.Sprintf("[%s] to %s", m.conn, m.targetLabel())))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m Model) title() string {
	if m.group.Name != "" {
		return m.group.Name
	}
	return m.group.ID
}

func (m Model) statusLine() string {
	if m.chain.State == chain.Loading {
		who := "agents"
		if m.chain.Agent != "" {
			who = "@" + m.chain.Agent
		}
		return m.spin.View() + " " + spinnerStyle.Render(who+" working...")
	}
	if m.notice != "" {
		return noticeStyle.Render(m.notice)
	}
	return ""
}

func formatNotice(n realtime.Notice) string {
	switch n.Kind {
	case realtime.NoticeUserMention:
		if n.Agent != "" {
			return "@" + n.Agent + " needs you: " + n.Text
		}
		return "you were mentioned: " + n.Text
	case realtime.NoticeSendFailed:
		return "send failed: " + n.Text
	case realtime.NoticeUploadFailed:
		return "upload failed: " + n.Text
	case realtime.NoticeConnectionLost:
		return n.Text
	default:
		return n.Text
	}
}

func ringBell() tea.Msg {
	fmt.Fprint(os.Stderr, "\a")
	return nil
}

// renderMessages formats a message list for the viewport.
func renderMessages(msgs []store.Message, width int) string {
	var b strings.Builder
	for _, msg := range msgs {
		var name string
		switch msg.Role {
		case store.RoleUser:
			name = userStyle.Render(msg.Sender)
		case store.RoleAgent:
			name = agentStyle.Render(msg.Sender)
		default:
			name = systemStyle.Render(msg.Sender)
		}

		b.WriteString(statusStyle.Render(msg.CreatedAt.Local().Format("15:04")))
		b.WriteString(" ")
		b.WriteString(name)
		switch msg.Status {
		case store.StatusSending:
			b.WriteString(pendingStyle.Render(" (sending)"))
		case store.StatusSent:
			b.WriteString(pendingStyle.Render(" (sent)"))
		case store.StatusFailed:
			b.WriteString(failedStyle.Render(" (failed: " + msg.Err + ")"))
		}
		b.WriteString("\n")

		content := msg.Content
		if width > 4 {
			content = wrap(content, width-2)
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// wrap breaks lines longer than width at spaces.
func wrap(s string, width int) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for len(line) > width {
			cut := strings.LastIndex(line[:width], " ")
			if cut <= 0 {
				cut = width
			}
			out = append(out, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Run starts the chat screen and blocks until the user quits or ctx ends.
func Run(ctx context.Context, engine Engine, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(ctx, engine, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running chat: %w", err)
	}
	return nil
}
