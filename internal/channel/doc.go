// ABOUTME: Defines the contract between the session core and channel transports.
// ABOUTME: Transports deliver a typed event stream; the core never sees protocol details.

// Package channel defines the transport-facing contract of the gateway.
//
// A Transport is one live connection to the external chat channel for one
// session. The core drives it through Connect/Disconnect/Send and consumes
// its Events stream; everything protocol-specific (pairing handshakes,
// sockets, credential files) stays behind the interface.
package channel
