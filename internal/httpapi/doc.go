// ABOUTME: JSON endpoints the admin dashboard polls; thin glue over the gateway.
// ABOUTME: No auth model here; access control is the deployment's concern.

// Package httpapi exposes the gateway's operations over HTTP for the
// external dashboard: session creation, status/identity/pairing polling,
// test sends, and teardown.
package httpapi
