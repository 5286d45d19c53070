// ABOUTME: The production WhatsApp transport, built on whatsmeow.
// ABOUTME: Everything upstream of this package is transport-agnostic.

// Package wadriver implements channel.Transport over the whatsmeow
// multidevice client. Each driver owns one SQLite credential store under
// the session's state directory.
package wadriver
