// ABOUTME: Facade composing registry, dispatch, dedupe, and store into one gateway.
// ABOUTME: This is the surface the presentation layer (HTTP API, CLI) talks to.

// Package gateway assembles the session core and exposes the operations
// the presentation layer needs: create/destroy sessions, query status and
// identity, send messages, list sessions, watch state changes.
package gateway
