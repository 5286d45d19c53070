// ABOUTME: Multi-tenant session lifecycle: registry, per-session state machine, event loop.
// ABOUTME: One goroutine per session consumes transport events in arrival order.

// Package session owns the lifecycle of channel sessions. The Registry
// maps session ids to live Sessions and enforces at-most-one live session
// per id. Each Session exclusively owns its transport, applies lifecycle
// events to its state machine, and feeds inbound messages through the
// dispatch pipeline. One session's failure never touches another's.
package session
