// Package store holds the client-side view of group conversations.
//
// # Data Models
//
//   - Group: a conversation group (id + name)
//   - Agent: an agent that can be a member of groups
//   - Document: a file uploaded into a group
//   - Message: one entry of a group's history, either confirmed by the server
//     or pending (optimistically inserted by this client)
//
// # MessageStore
//
// MessageStore keeps one partition per group id. Confirmed messages are only
// ever replaced wholesale by ApplyAuthoritative with a full server snapshot,
// which makes reconciliation idempotent and order tolerant: the last snapshot
// applied wins. Pending messages live beside the confirmed list until an
// authoritative message claims them.
//
// The rendered list (Messages) is always sorted by (CreatedAt, ID), where
// numeric ids compare numerically.
//
// # Reconciliation
//
// A pending message (status sending or sent) is claimed by the first
// authoritative message that:
//
//   - has role user and the same sender
//   - has the same content, or the content prefixed with "@<agent> " (the
//     server adds the target mention in multi-agent groups)
//   - was created no earlier than the pending message minus ReconcileSkew
//   - has not already claimed another pending message
//
// Failed messages are never claimed and stay visible until discarded.
package store
