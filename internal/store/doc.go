// ABOUTME: Persistent message log for dispatched inbound messages.
// ABOUTME: SQLite-backed; the log is an audit trail, never on the hot dispatch path's error flow.

// Package store persists the inbound message log. Dispatch treats the log
// as best-effort: a write failure is logged and never blocks or fails
// message delivery.
package store
