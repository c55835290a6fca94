// ABOUTME: In-memory fan-out broadcaster keyed by group id
// ABOUTME: Delivers published values to every subscriber of a group without blocking

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the channel buffer for each subscriber.
	DefaultBufferSize = 64
)

// Broadcaster provides in-memory pub/sub of values of type T. Subscribers
// register for a group id and receive values published for it.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan T // groupID -> subID -> ch
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster[T any](logger *slog.Logger) *Broadcaster[T] {
	return NewBroadcasterSize[T](logger, DefaultBufferSize)
}

// NewBroadcasterSize creates a broadcaster with a custom per-subscriber buffer.
func NewBroadcasterSize[T any](logger *slog.Logger, bufferSize int) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]map[string]chan T),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for values on the given group id.
// Returns a channel that receives values and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled. Subscribing to a closed broadcaster returns a closed channel.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, groupID string) (<-chan T, string) {
	subID := uuid.New().String()
	ch := make(chan T, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[groupID]; !ok {
		b.subscribers[groupID] = make(map[string]chan T)
	}
	b.subscribers[groupID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"group_id", groupID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(groupID, subID)
	}()

	return ch, subID
}

// Publish sends a value to all subscribers of the given group id.
// If excludeSubID is non-empty, that subscriber is skipped.
// Non-blocking: values are dropped for subscribers whose channels are full.
func (b *Broadcaster[T]) Publish(groupID string, value T, excludeSubID string) {
	// The read lock is held across the non-blocking sends so Unsubscribe
	// cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.subscribers[groupID]
	if !ok || len(subs) == 0 {
		return
	}

	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- value:
		default:
			b.logger.Debug("dropped value for slow subscriber",
				"group_id", groupID,
				"sub_id", id)
		}
	}
}

// Subscribers returns the number of live subscriptions for a group id.
func (b *Broadcaster[T]) Subscribers(groupID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[groupID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(groupID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[groupID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, groupID)
	}

	b.logger.Debug("subscriber removed",
		"group_id", groupID,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
// It is safe to call multiple times.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for groupID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, groupID)
	}

	b.logger.Debug("broadcaster closed")
}
