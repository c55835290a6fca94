// Package dedupe remembers recently seen keys for a bounded time window.
//
// The event dispatcher uses it to drop push frames that arrive twice (for
// example when the server replays its buffer after a reconnect).
package dedupe
