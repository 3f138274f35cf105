// Package connectortest is a thin in-process loopback satisfying
// connector.Connector, for driving a securechannel.Channel or a
// commands.Session against scripted responses without a real device or
// yubihsm-connector bridge process.
package connectortest

import (
	"context"

	"github.com/corehsm/yubihsm-go/connector"
	"github.com/google/uuid"
)

// Connector dispatches every SendMessage call to Handle. It is not a
// simulated HSM: callers script exactly the bytes their test needs back,
// the same way a hand-rolled HTTP round-tripper stands in for a real
// server.
type Connector struct {
	Handle func(request []byte) ([]byte, error)
	Status connector.Status

	Requests [][]byte
	closed   bool
}

func (c *Connector) SendMessage(_ uuid.UUID, request []byte) ([]byte, error) {
	c.Requests = append(c.Requests, append([]byte(nil), request...))
	return c.Handle(request)
}

func (c *Connector) Healthcheck(_ context.Context) (connector.Status, error) {
	return c.Status, nil
}

func (c *Connector) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close has been called, for tests asserting a
// client released its transport.
func (c *Connector) Closed() bool { return c.closed }
