// ABOUTME: Transport interface and the typed event union emitted by channel drivers.
// ABOUTME: One dispatch loop per session consumes the event stream in arrival order.

package channel

import "context"

// Transport is one live channel connection owned by exactly one session.
//
// Connect initiates the connection and authentication flow; lifecycle
// progress arrives on Events. Disconnect is best-effort and releases the
// transport's own resources synchronously. Send transmits a message to an
// already-normalized recipient address.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, recipient, content string) error

	// Events returns the transport's event stream. Events for a single
	// transport are emitted in order; the channel is closed when the
	// transport shuts down for good.
	Events() <-chan Event
}

// Factory constructs a Transport for a session. stateDir is the
// session-scoped credential namespace; the core treats it as opaque.
type Factory func(ctx context.Context, sessionID, stateDir string) (Transport, error)

// EventKind discriminates the Event union.
type EventKind int

const (
	// EventPairingCode carries a scannable pairing payload.
	EventPairingCode EventKind = iota
	// EventReady signals successful authentication; Identity is populated.
	EventReady
	// EventAuthFailure is advisory; Detail describes the failure.
	EventAuthFailure
	// EventDisconnected signals loss of the connection; Detail holds the reason.
	EventDisconnected
	// EventMessage carries an inbound message in Inbound.
	EventMessage
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventPairingCode:
		return "pairing_code"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is the tagged union a transport emits. Exactly the fields implied
// by Kind are populated.
type Event struct {
	Kind EventKind

	// PairingCode for EventPairingCode.
	PairingCode string

	// Detail for EventAuthFailure and EventDisconnected.
	Detail string

	// Identity for EventReady.
	Identity *Identity

	// Message for EventMessage.
	Message *Inbound
}

// Identity is the authenticated account behind a ready session.
type Identity struct {
	DisplayName string `json:"pushName"`
	Address     string `json:"number"`
	Platform    string `json:"platform,omitempty"`
}

// Inbound is a raw transport message before normalization. From and Body
// are the only fields a transport must populate; everything else degrades
// to defaults downstream.
type Inbound struct {
	// MessageID is the transport's own message identifier, used for
	// redelivery suppression. May be empty.
	MessageID string

	From         string
	PushName     string
	ContactName  string
	VerifiedName string
	Body         string

	// Timestamp is epoch seconds as reported by the transport.
	Timestamp int64

	// Type is the transport-reported content kind (text, media, ...),
	// passed through opaquely.
	Type string
}
