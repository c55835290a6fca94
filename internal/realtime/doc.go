// Package realtime keeps a client-side view of the selected group in sync
// with the backend.
//
// # Components
//
//   - ConnectionManager owns the single push stream, reconnecting with
//     exponential backoff when it drops.
//   - Dispatcher turns raw stream frames into refetch requests, chain
//     observations, and user notices.
//   - Engine is the orchestrator. A single goroutine serializes group
//     selection, refetch bookkeeping, and every store mutation so push-driven
//     and send-driven refetches converge on one reconciliation path.
//
// # Lifecycle
//
//	eng, err := realtime.NewEngine(realtime.Options{API: c, Streams: realtime.ClientStreams(c)})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	if err := eng.SelectGroup(ctx, "g-1"); err != nil {
//	    return err
//	}
//	views := eng.SubscribeMessages(ctx, "g-1")
//	signals := eng.SubscribeSignals(ctx, "g-1")
//
// # Group Switching
//
// Selecting a group bumps an epoch. Reconnect timers, delayed refetches,
// and in-flight fetches of the previous epoch are canceled, and any result
// that still arrives is discarded rather than applied.
package realtime
