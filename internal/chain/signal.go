// ABOUTME: Chain signal types and the pub/sub bus that carries them
// ABOUTME: Loading/Idle signals are transient and never stored

package chain

import (
	"context"
	"log/slog"

	"github.com/2389/coven-groups/internal/conversation"
)

// State is the chain state of a group.
type State int

const (
	// Idle means no agent reply is expected.
	Idle State = iota
	// Loading means another agent is expected to reply.
	Loading
)

func (s State) String() string {
	if s == Loading {
		return "loading"
	}
	return "idle"
}

// Signal announces a chain state change for a group.
type Signal struct {
	State   State
	GroupID string
	// Agent is the mentioned agent for Loading signals.
	Agent string
}

// Bus carries chain signals to subscribers of a group.
type Bus struct {
	b *conversation.Broadcaster[Signal]
}

// NewBus creates a signal bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{b: conversation.NewBroadcaster[Signal](logger)}
}

// Subscribe returns a channel of signals for groupID and the subscription id.
func (b *Bus) Subscribe(ctx context.Context, groupID string) (<-chan Signal, string) {
	return b.b.Subscribe(ctx, groupID)
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(groupID, subID string) {
	b.b.Unsubscribe(groupID, subID)
}

// Publish delivers sig to the subscribers of sig.GroupID.
func (b *Bus) Publish(sig Signal) {
	b.b.Publish(sig.GroupID, sig, "")
}

// Close closes every subscription.
func (b *Bus) Close() {
	b.b.Close()
}
