// ABOUTME: Dispatcher routing push-stream frames to the sync engine
// ABOUTME: Parses frames, drops cross-group and duplicate ones, and classifies agent replies

package realtime

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-groups/internal/dedupe"
	"github.com/2389/coven-groups/internal/mention"
	"github.com/2389/coven-groups/internal/store"
)

// Frame types sent by the backend.
const (
	FrameConnected   = "connected"
	FrameMessage     = "message"
	FrameUserMention = "user_mention"
	FrameError       = "error"
	FrameToolCall    = "tool_call"
	FrameToolResult  = "tool_result"
	FrameMCPCall     = "mcp_call"
	FrameAgentCall   = "agent_call"
)

// Frame is one push-stream event.
type Frame struct {
	Type              string          `json:"type"`
	GroupID           string          `json:"group_id"`
	AgentKey          string          `json:"agent_key"`
	Timestamp         float64         `json:"timestamp"`
	Payload           json.RawMessage `json:"payload"`
	SoundNotification bool            `json:"sound_notification"`
}

// FramePayload holds the payload fields of every frame type the engine
// reads. Absent fields stay empty.
type FramePayload struct {
	Sender  string `json:"sender"`
	Role    string `json:"role"`
	Content string `json:"content"`

	// user_mention and error frames
	Message      string `json:"message"`
	Notification string `json:"notification"`
	Error        string `json:"error"`
	Where        string `json:"where"`

	// tool and agent-call frames
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Server string `json:"server"`
}

// NoticeKind classifies a user-facing notice.
type NoticeKind string

// Notice kinds
const (
	NoticeUserMention    NoticeKind = "user_mention"
	NoticeStreamError    NoticeKind = "stream_error"
	NoticeSendFailed     NoticeKind = "send_failed"
	NoticeUploadFailed   NoticeKind = "upload_failed"
	NoticeConnectionLost NoticeKind = "connection_lost"
)

// Notice is a toast-style notification for the UI.
type Notice struct {
	Kind    NoticeKind
	GroupID string
	Agent   string
	Text    string
	// Sound asks the UI to play a notification sound.
	Sound bool
	Time  time.Time
}

// Sink receives what the dispatcher derives from frames. The engine calls
// Dispatch from its loop, so Sink methods run there too.
type Sink interface {
	RequestRefetch(groupID, reason string)
	ObserveAgentReply(groupID string, res mention.Result)
	Notify(n Notice)
}

// Dispatcher parses frames and routes them to a Sink.
type Dispatcher struct {
	sink   Sink
	seen   *dedupe.Cache
	now    func() time.Time
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil seen cache disables duplicate
// suppression.
func NewDispatcher(sink Sink, seen *dedupe.Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:   sink,
		seen:   seen,
		now:    time.Now,
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch handles one raw frame read from the stream of groupID. Malformed
// frames are logged and dropped.
func (d *Dispatcher) Dispatch(groupID string, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.logger.Warn("dropping malformed frame",
			"group_id", groupID,
			"error", err,
			"frame", truncate(string(raw), 200))
		return
	}

	if f.GroupID != "" && f.GroupID != groupID {
		d.logger.Debug("ignoring frame for another group",
			"group_id", groupID,
			"frame_group_id", f.GroupID,
			"type", f.Type)
		return
	}

	var p FramePayload
	if len(f.Payload) > 0 && string(f.Payload) != "null" {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			d.logger.Warn("dropping frame with malformed payload",
				"group_id", groupID,
				"type", f.Type,
				"error", err)
			return
		}
	}

	if d.seen != nil && f.Type != FrameConnected {
		if d.seen.CheckAndMark(frameKey(groupID, f, p)) {
			d.logger.Debug("dropping duplicate frame", "group_id", groupID, "type", f.Type)
			return
		}
	}

	switch f.Type {
	case FrameMessage:
		d.handleMessage(groupID, f, p)

	case FrameUserMention:
		text := p.Message
		if text == "" {
			text = p.Content
		}
		d.sink.Notify(Notice{
			Kind:    NoticeUserMention,
			GroupID: groupID,
			Agent:   f.AgentKey,
			Text:    text,
			Sound:   f.SoundNotification || p.Notification == "sound",
			Time:    d.now(),
		})

	case FrameError:
		text := p.Error
		if text == "" {
			text = p.Message
		}
		d.logger.Warn("backend reported error", "group_id", groupID, "where", p.Where, "error", text)
		d.sink.Notify(Notice{
			Kind:    NoticeStreamError,
			GroupID: groupID,
			Text:    text,
			Time:    d.now(),
		})

	case FrameConnected:
		d.logger.Debug("stream connected", "group_id", groupID)

	case FrameToolCall, FrameToolResult, FrameMCPCall:
		d.logger.Debug("agent activity",
			"group_id", groupID,
			"type", f.Type,
			"agent", f.AgentKey,
			"tool", p.Tool,
			"status", p.Status)

	case FrameAgentCall:
		d.logger.Debug("agent handoff",
			"group_id", groupID,
			"caller", p.Caller,
			"callee", p.Callee,
			"status", p.Status)

	default:
		d.logger.Debug("ignoring unknown frame type", "group_id", groupID, "type", f.Type)
	}
}

func (d *Dispatcher) handleMessage(groupID string, f Frame, p FramePayload) {
	switch store.Role(p.Role) {
	case store.RoleAgent:
		// The payload is only a hint; the refetch is the source of truth.
		d.sink.RequestRefetch(groupID, "agent_message")
		d.sink.ObserveAgentReply(groupID, mention.Scan(p.Content))
	case store.RoleUser:
		// Another client of this group wrote.
		d.sink.RequestRefetch(groupID, "user_message")
	default:
		d.logger.Debug("ignoring message frame", "group_id", groupID, "role", p.Role)
	}
}

func frameKey(groupID string, f Frame, p FramePayload) string {
	return strings.Join([]string{
		groupID,
		f.Type,
		f.AgentKey,
		strconv.FormatFloat(f.Timestamp, 'f', -1, 64),
		p.Role,
		p.Content,
		p.Message,
	}, "|")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
