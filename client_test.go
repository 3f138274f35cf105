package yubihsm_test

import (
	"context"
	"testing"

	yubihsm "github.com/corehsm/yubihsm-go"
	"github.com/corehsm/yubihsm-go/authkey"
	"github.com/corehsm/yubihsm-go/connector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unreachableConnector struct{ err error }

func (c *unreachableConnector) SendMessage(uuid.UUID, []byte) ([]byte, error) { return nil, c.err }
func (c *unreachableConnector) Healthcheck(context.Context) (connector.Status, error) {
	return connector.Status{}, c.err
}
func (c *unreachableConnector) Close() error { return nil }

func TestOpenSurfacesTransportFailure(t *testing.T) {
	conn := &unreachableConnector{err: assertionError("no route to host")}
	_, err := yubihsm.Open(conn, 1, authkey.FromPassword("password"))
	require.Error(t, err)
}

func TestUnreachableConnectorHealthcheckReturnsError(t *testing.T) {
	wantErr := assertionError("connector unreachable")
	conn := &unreachableConnector{err: wantErr}
	// Open fails before a session exists, so exercise Healthcheck
	// directly against the same connector instead.
	_, err := conn.Healthcheck(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
