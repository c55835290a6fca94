// Package chain tracks whether a group is waiting for another agent.
//
// When an agent's reply mentions another agent, control passes to that agent
// and the UI should show a "waiting for the next agent" indicator. Tracker
// turns agent replies into Loading and Idle signals and publishes them on a
// Bus:
//
//   - reply mentions an agent: Loading, published after a short debounce so
//     the triggering reply renders first
//   - reply mentions @user or nobody: Idle, published immediately; this also
//     clears any Loading left behind by an earlier reply
//   - group switch or connection close: Reset returns to Idle silently
package chain
