// ABOUTME: Redelivery suppression for inbound channel messages.
// ABOUTME: Transports replay messages after reconnects; seen ids are dropped once.

// Package dedupe tracks recently seen transport message ids so a session's
// dispatch loop processes each inbound message at most once per TTL window.
package dedupe
