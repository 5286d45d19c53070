// ABOUTME: Canonical inbound message shape and the transport-event normalizer.
// ABOUTME: JSON field names match the wire format webhook consumers already parse.

// Package message defines the channel-agnostic representation of an
// inbound message and the conversion from raw transport payloads.
package message

import (
	"time"

	"github.com/2389/courier-gateway/internal/channel"
)

// Channel is the constant tag identifying this channel kind.
const Channel = "whatsapp-personal"

// UnknownSender is the display-name sentinel when no name field is present.
const UnknownSender = "Unknown"

// Message is a normalized inbound message. Instances are ephemeral:
// constructed per inbound event, handed to the dispatch pipeline, and not
// retained.
type Message struct {
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`

	// From is the raw sender address as given by the transport.
	From string `json:"from"`

	// FromHandle is the user/number portion of From, before the server
	// suffix.
	FromHandle string `json:"fromNumber"`

	// DisplayName is the best-effort human-readable sender name.
	DisplayName string `json:"fromName"`

	Body string `json:"body"`

	// Timestamp is the send time as an ISO-8601 UTC instant.
	Timestamp string `json:"timestamp"`

	// Type is the transport-reported content kind, passed through opaquely.
	Type string `json:"messageType"`

	IsGroup bool `json:"isGroup"`
}

// Normalize converts a raw transport payload into a Message. It never
// fails: missing optional fields fall back to their defaults, and only the
// address and body are taken as given.
func Normalize(sessionID string, in *channel.Inbound) *Message {
	return &Message{
		Channel:     Channel,
		SessionID:   sessionID,
		From:        in.From,
		FromHandle:  channel.Handle(in.From),
		DisplayName: displayName(in),
		Body:        in.Body,
		Timestamp:   time.Unix(in.Timestamp, 0).UTC().Format(time.RFC3339),
		Type:        in.Type,
		IsGroup:     channel.IsGroup(in.From),
	}
}

// displayName picks the first non-empty candidate name field.
func displayName(in *channel.Inbound) string {
	for _, name := range []string{in.PushName, in.ContactName, in.VerifiedName} {
		if name != "" {
			return name
		}
	}
	return UnknownSender
}
