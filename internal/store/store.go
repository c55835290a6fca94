// ABOUTME: Data types for the client-side view of groups, agents, and messages
// ABOUTME: Defines Message ordering and the pending-message status lifecycle

package store

import (
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Group is a conversation group.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agent describes an agent available to groups.
type Agent struct {
	Key         string
	Name        string
	Description string
	Emoji       string
}

// Document is a file uploaded into a group.
type Document struct {
	ID          string
	Filename    string
	Sender      string
	TargetAgent string
	Size        int64
	Extension   string
	Summary     string
	CreatedAt   time.Time
}

// Role identifies who produced a message.
type Role string

// Message roles
const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Status is the delivery state of a message. Confirmed messages have the
// empty status.
type Status string

// Message statuses
const (
	StatusConfirmed Status = ""
	StatusSending   Status = "sending" // optimistic, request in flight
	StatusSent      Status = "sent"    // accepted by the server, awaiting its copy
	StatusFailed    Status = "failed"  // the send request failed
)

// Message is one entry in a group's history.
type Message struct {
	ID        string
	GroupID   string
	Sender    string
	Role      Role
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time

	// Set on pending messages only.
	Status  Status
	TempID  string
	AgentID string
	SentAt  time.Time
	Err     string
}

// IsPending reports whether the message was inserted locally and not yet
// claimed by a server message.
func (m Message) IsPending() bool {
	return m.TempID != ""
}

// PendingHandle identifies an optimistic message.
type PendingHandle struct {
	GroupID string
	TempID  string
}

// View is a full rendered message list for one group.
type View struct {
	GroupID  string
	Messages []Message
}

// Less orders messages by creation time, then by id. Numeric ids compare
// numerically and sort before non-numeric ids.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return compareIDs(a.ID, b.ID) < 0
}

func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
