// ABOUTME: Fan-out of normalized inbound messages to handler, webhook, and message log.
// ABOUTME: The three delivery paths are attempted independently; failures never cross over.

// Package dispatch delivers each normalized message to the session's
// in-process handler, its configured webhook, and the message log. A
// failure in any path is logged and isolated: it neither reaches the other
// paths nor the event loop feeding the pipeline.
package dispatch
