// ABOUTME: In-memory MessageStore partitioned by group id
// ABOUTME: Optimistic insert, authoritative replace, and idempotent reconciliation

package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultReconcileSkew tolerates server clocks that run behind ours.
	DefaultReconcileSkew = 30 * time.Second
	// DefaultStaleAfter drops sent messages the server never echoed back.
	DefaultStaleAfter = 2 * time.Minute

	tempIDPrefix = "tmp-"
)

// Options configures a MessageStore.
type Options struct {
	ReconcileSkew time.Duration
	StaleAfter    time.Duration
	// Now is the time source; defaults to time.Now.
	Now func() time.Time
}

// MessageStore holds the message lists of every group this client has
// viewed. It is safe for concurrent use.
type MessageStore struct {
	mu     sync.RWMutex
	groups map[string]*groupState
	skew   time.Duration
	stale  time.Duration
	now    func() time.Time
}

type groupState struct {
	confirmed []Message           // sorted, unique ids
	pending   []*Message          // insertion order
	claimed   map[string]struct{} // server ids that already claimed a pending message
	// preexisting holds, per temp id, the server ids confirmed before that
	// send started. They can never claim it.
	preexisting map[string]map[string]struct{}
}

// NewMessageStore creates an empty store.
func NewMessageStore(opts Options) *MessageStore {
	if opts.ReconcileSkew <= 0 {
		opts.ReconcileSkew = DefaultReconcileSkew
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MessageStore{
		groups: make(map[string]*groupState),
		skew:   opts.ReconcileSkew,
		stale:  opts.StaleAfter,
		now:    opts.Now,
	}
}

func (s *MessageStore) groupLocked(groupID string) *groupState {
	g, ok := s.groups[groupID]
	if !ok {
		g = &groupState{
			claimed:     make(map[string]struct{}),
			preexisting: make(map[string]map[string]struct{}),
		}
		s.groups[groupID] = g
	}
	return g
}

// ApplyAuthoritative replaces the confirmed view of groupID with exactly
// msgs and reconciles pending messages against it. Messages whose GroupID
// names another group are ignored; duplicate ids keep their last occurrence.
// Applying the same snapshot twice yields the same view. The rendered list
// is returned.
func (s *MessageStore) ApplyAuthoritative(groupID string, msgs []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.groupLocked(groupID)
	g.confirmed = normalize(groupID, msgs)
	g.pending = s.reconcileLocked(g)

	return renderLocked(g)
}

func normalize(groupID string, msgs []Message) []Message {
	index := make(map[string]int, len(msgs))
	out := make([]Message, 0, len(msgs))

	for _, m := range msgs {
		if m.GroupID != "" && m.GroupID != groupID {
			continue
		}
		m.GroupID = groupID
		m.Status = StatusConfirmed
		m.TempID = ""
		if i, dup := index[m.ID]; dup {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// reconcileLocked returns the pending messages that survive the current
// confirmed list.
func (s *MessageStore) reconcileLocked(g *groupState) []*Message {
	now := s.now()
	kept := g.pending[:0:0]

	for _, p := range g.pending {
		if p.Status == StatusFailed {
			kept = append(kept, p)
			continue
		}
		if id, ok := s.findClaimLocked(g, p); ok {
			g.claimed[id] = struct{}{}
			delete(g.preexisting, p.TempID)
			continue
		}
		if p.Status == StatusSent && now.Sub(p.SentAt) > s.stale {
			delete(g.preexisting, p.TempID)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func (s *MessageStore) findClaimLocked(g *groupState, p *Message) (string, bool) {
	earliest := p.CreatedAt.Add(-s.skew)
	before := g.preexisting[p.TempID]
	for _, m := range g.confirmed {
		if _, taken := g.claimed[m.ID]; taken {
			continue
		}
		if _, old := before[m.ID]; old {
			continue
		}
		if m.Role != RoleUser || m.Sender != p.Sender {
			continue
		}
		if m.CreatedAt.Before(earliest) {
			continue
		}
		if contentMatches(m.Content, p.Content, p.AgentID) {
			return m.ID, true
		}
	}
	return "", false
}

func contentMatches(server, local, agentID string) bool {
	server = strings.TrimSpace(server)
	local = strings.TrimSpace(local)
	if server == local {
		return true
	}
	if agentID == "" {
		return false
	}
	prefix := "@" + agentID
	if !strings.HasPrefix(server, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(server, prefix)) == local
}

// AppendOptimistic inserts a pending user message with status sending and
// returns its handle.
func (s *MessageStore) AppendOptimistic(groupID, sender, agentID, content string) PendingHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempID := tempIDPrefix + uuid.New().String()
	g := s.groupLocked(groupID)
	if len(g.confirmed) > 0 {
		before := make(map[string]struct{}, len(g.confirmed))
		for _, m := range g.confirmed {
			before[m.ID] = struct{}{}
		}
		g.preexisting[tempID] = before
	}
	g.pending = append(g.pending, &Message{
		ID:        tempID,
		GroupID:   groupID,
		Sender:    sender,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: s.now(),
		Status:    StatusSending,
		TempID:    tempID,
		AgentID:   agentID,
	})

	return PendingHandle{GroupID: groupID, TempID: tempID}
}

// ResolvePending records the outcome of a send. On success the message
// stays visible as sent until a snapshot claims it; on failure it is marked
// failed with errMsg. Returns false if the handle is unknown, which happens
// when a snapshot already claimed the message.
func (s *MessageStore) ResolvePending(h PendingHandle, success bool, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findPendingLocked(h)
	if p == nil {
		return false
	}
	if success {
		p.Status = StatusSent
		p.SentAt = s.now()
		p.Err = ""
	} else {
		p.Status = StatusFailed
		p.Err = errMsg
	}
	return true
}

// Discard removes a pending message, typically a failed one the user
// dismissed. Returns false if the handle is unknown.
func (s *MessageStore) Discard(h PendingHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[h.GroupID]
	if !ok {
		return false
	}
	for i, p := range g.pending {
		if p.TempID == h.TempID {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			delete(g.preexisting, h.TempID)
			return true
		}
	}
	return false
}

// Get returns the pending message for a handle.
func (s *MessageStore) Get(h PendingHandle) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.findPendingLocked(h)
	if p == nil {
		return Message{}, ErrNotFound
	}
	return *p, nil
}

func (s *MessageStore) findPendingLocked(h PendingHandle) *Message {
	g, ok := s.groups[h.GroupID]
	if !ok {
		return nil
	}
	for _, p := range g.pending {
		if p.TempID == h.TempID {
			return p
		}
	}
	return nil
}

// Messages returns the rendered list for groupID: confirmed and pending
// messages merged and sorted by (CreatedAt, ID).
func (s *MessageStore) Messages(groupID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	return renderLocked(g)
}

// Pending returns the pending messages of groupID in insertion order.
func (s *MessageStore) Pending(groupID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, *p)
	}
	return out
}

// Latest returns the newest confirmed message with the given role.
func (s *MessageStore) Latest(groupID string, role Role) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return Message{}, false
	}
	for i := len(g.confirmed) - 1; i >= 0; i-- {
		if g.confirmed[i].Role == role {
			return g.confirmed[i], true
		}
	}
	return Message{}, false
}

// Reset forgets everything known about groupID.
func (s *MessageStore) Reset(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
}

func renderLocked(g *groupState) []Message {
	out := make([]Message, 0, len(g.confirmed)+len(g.pending))
	out = append(out, g.confirmed...)
	for _, p := range g.pending {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}
