// Package conversation provides in-memory fan-out for per-group updates.
//
// # Overview
//
// Broadcaster is a keyed publish/subscribe hub. Subscribers register for a
// group id and receive every value published for that group until they
// unsubscribe or their context is cancelled. Publishing never blocks: a
// subscriber whose buffer is full misses the value.
//
// The sync engine runs one Broadcaster per output stream (message views,
// chain signals, notices, connection states) so UI code can react to a
// single group without polling.
//
// # Usage
//
//	b := conversation.NewBroadcaster[store.View](logger)
//	ch, subID := b.Subscribe(ctx, "group-1")
//	go func() {
//	    for view := range ch {
//	        render(view)
//	    }
//	}()
//	b.Publish("group-1", view, "")
package conversation
