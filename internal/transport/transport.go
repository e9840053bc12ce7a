// SPDX-License-Identifier: MIT
//
// Package transport moves gate telemetry out of the process. Payloads are
// opaque to the interface; each implementation decides what it can encode.
package transport

// Transport defines a generic interface for sending gate snapshots or events.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(data any) error
	Close() error
}
