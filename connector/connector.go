// Package connector abstracts the transport between the client and the
// physical or networked HSM: an HTTP bridge (yubihsm-connector-style) or a
// direct USB bulk connection. Everything above this package (wire,
// securechannel, commands, and the root session manager) only ever sees
// the Connector interface and never cares which transport is in use.
package connector

import (
	"context"

	"github.com/google/uuid"
)

// Status is the connector/device health reported by Healthcheck.
type Status struct {
	// Serial is the device's serial number, or empty if the connector
	// reports no device attached.
	Serial string
	// Version is the connector's own version string, empty for
	// transports (like USB) with no separate bridge process.
	Version string
	// Message is a short human-readable status, e.g. "OK".
	Message string
}

// Connector is the transport boundary every backend implements. Send and
// Healthcheck must be safe to call from one goroutine at a time; callers
// above this package (the secure channel and session manager) already
// serialize access per spec.md §4.3.
type Connector interface {
	// SendMessage writes a single already-framed request and returns the
	// single already-framed response. id is a correlation identifier
	// used for logging and, on the HTTP backend, the X-Request-ID
	// header; it is never part of the wire protocol itself.
	SendMessage(id uuid.UUID, request []byte) ([]byte, error)

	// Healthcheck reports whether the transport (and, where knowable,
	// the device behind it) is reachable.
	Healthcheck(ctx context.Context) (Status, error)

	// Close releases any transport resources (sockets, USB handles).
	Close() error
}
