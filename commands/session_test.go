package commands_test

import (
	"encoding/binary"
	"testing"

	"github.com/corehsm/yubihsm-go/authkey"
	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/commands"
	"github.com/corehsm/yubihsm-go/connector/connectortest"
	"github.com/corehsm/yubihsm-go/securechannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSession binds a Session to a fresh, unauthenticated channel over
// a scripted loopback connector. Good enough for the unauthenticated
// commands (echo, device-info); authenticated-path coverage lives in
// securechannel's own handshake tests, which have access to the
// unexported key-derivation helpers a realistic fake device needs.
func newTestSession(t *testing.T, handle func(request []byte) ([]byte, error)) *commands.Session {
	t.Helper()
	conn := &connectortest.Connector{Handle: handle}
	ch, err := securechannel.New(conn, 1, authkey.FromPassword("password"))
	require.NoError(t, err)
	return commands.NewSession(ch)
}

func echoResponder(request []byte) ([]byte, error) {
	body := request[3:]
	resp := append([]byte{byte(command.Echo.SuccessCode()), 0, 0}, body...)
	binary.BigEndian.PutUint16(resp[1:3], uint16(len(body)))
	return resp, nil
}

func TestEchoReturnsDeviceBody(t *testing.T) {
	session := newTestSession(t, echoResponder)
	got, err := session.Echo([]byte("hi there"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi there"), got)
}

func TestPingSucceedsOnEchoedStatusByte(t *testing.T) {
	session := newTestSession(t, echoResponder)
	assert.NoError(t, session.Ping())
}

func TestDeviceInfoParsesFixedFieldsAndAlgorithmTags(t *testing.T) {
	session := newTestSession(t, func(request []byte) ([]byte, error) {
		body := []byte{2, 2, 0}
		body = binary.BigEndian.AppendUint32(body, 7000000)
		body = append(body, 3, 1)
		body = append(body, byte(command.AlgorithmRSAPKCS1SHA256), byte(command.AlgorithmEC_P256))

		resp := append([]byte{byte(command.DeviceInfo.SuccessCode()), 0, 0}, body...)
		binary.BigEndian.PutUint16(resp[1:3], uint16(len(body)))
		return resp, nil
	})

	info, err := session.DeviceInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), info.Major)
	assert.Equal(t, uint8(2), info.Minor)
	assert.Equal(t, uint8(0), info.Patch)
	assert.Equal(t, uint32(7000000), info.SerialNumber)
	assert.Equal(t, uint8(3), info.LogStoreCapacity)
	assert.Equal(t, uint8(1), info.LogStoreUsed)
	assert.Equal(t, []command.Algorithm{command.AlgorithmRSAPKCS1SHA256, command.AlgorithmEC_P256}, info.SupportedAlgorithms)
}

func TestDeviceInfoRejectsShortPayload(t *testing.T) {
	session := newTestSession(t, func(request []byte) ([]byte, error) {
		return []byte{byte(command.DeviceInfo.SuccessCode()), 0, 0}, nil
	})
	_, err := session.DeviceInfo()
	require.Error(t, err)
}

func TestEchoSurfacesMismatchedResponseCode(t *testing.T) {
	session := newTestSession(t, func(request []byte) ([]byte, error) {
		return []byte{byte(command.DeviceInfo.SuccessCode()), 0, 0}, nil
	})
	_, err := session.Echo([]byte("x"))
	require.Error(t, err)
}
