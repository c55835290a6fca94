// Package schedule provides cancelable delayed calls.
//
// Debounce and reconnect timers go through a Scheduler so that switching
// groups can positively cancel them through the returned Handle. Real is
// backed by time.AfterFunc; Manual is a virtual clock for tests.
package schedule
