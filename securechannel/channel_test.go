package securechannel

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/corehsm/yubihsm-go/authkey"
	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/connector"
	"github.com/corehsm/yubihsm-go/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a white-box in-process stand-in for the HSM's own side of
// the handshake and session-message exchange. It derives session keys
// and chains MACs with the exact same kdf/computeMAC/pad helpers the
// Channel under test uses, which is the point: a real device and this
// client must reach byte-identical session state from the same inputs.
type fakeDevice struct {
	authKey authkey.Key

	sessionID     uint8
	hostChallenge [ChallengeLength]byte
	cardChallenge [ChallengeLength]byte
	keys          keyChain
	macChain      [16]byte
	counter       uint32

	tamperNextResponseMAC bool
	echoBody              []byte
}

func newFakeDevice(key authkey.Key) *fakeDevice {
	d := &fakeDevice{authKey: key, sessionID: 7}
	rand.Read(d.cardChallenge[:])
	return d
}

// SendMessage implements connector.Connector against whatever command the
// Channel under test just sent.
func (d *fakeDevice) SendMessage(id uuid.UUID, request []byte) ([]byte, error) {
	code := command.Code(request[0])
	declared := int(binary.BigEndian.Uint16(request[1:3]))
	rest := request[3 : 3+declared]

	switch code {
	case command.CreateSession:
		return d.handleCreateSession(rest)
	case command.AuthenticateSession:
		return d.handleAuthenticateSession(rest)
	case command.SessionMessage:
		return d.handleSessionMessage(rest)
	case command.Echo:
		resp := []byte{byte(command.Echo.SuccessCode()), 0, 0}
		resp = append(resp, rest...)
		binary.BigEndian.PutUint16(resp[1:3], uint16(len(rest)))
		return resp, nil
	default:
		panic("fakeDevice: unhandled command")
	}
}

func (d *fakeDevice) handleCreateSession(body []byte) ([]byte, error) {
	copy(d.hostChallenge[:], body[2:2+ChallengeLength])

	context := append(append([]byte{}, d.hostChallenge[:]...), d.cardChallenge[:]...)
	encKey, _ := kdf(d.authKey.EncKey(), derivationEncKey, context, KeyLength*8)
	macKey, _ := kdf(d.authKey.MacKey(), derivationMacKey, context, KeyLength*8)
	rmacKey, _ := kdf(d.authKey.MacKey(), derivationRMacKey, context, KeyLength*8)
	d.keys = keyChain{encKey: encKey, macKey: macKey, rmacKey: rmacKey}

	cardCryptogram, _ := kdf(d.keys.macKey, derivationCardCryptogram, context, CryptogramLength*8)

	respBody := append([]byte{d.sessionID}, d.cardChallenge[:]...)
	respBody = append(respBody, cardCryptogram...)

	resp := make([]byte, 3+len(respBody))
	resp[0] = byte(command.CreateSession.SuccessCode())
	binary.BigEndian.PutUint16(resp[1:3], uint16(len(respBody)))
	copy(resp[3:], respBody)
	return resp, nil
}

func (d *fakeDevice) handleAuthenticateSession(body []byte) ([]byte, error) {
	sessionID := body[0]
	hostCryptogram := body[1 : len(body)-wire.MACSize]

	context := append(append([]byte{}, d.hostChallenge[:]...), d.cardChallenge[:]...)
	expectedHostCryptogram, _ := kdf(d.keys.macKey, derivationHostCryptogram, context, CryptogramLength*8)
	if string(expectedHostCryptogram) != string(hostCryptogram) {
		return d.errorResponse(), nil
	}

	var zeroChain [16]byte
	full, _ := computeMAC(d.keys.macKey, zeroChain[:], byte(command.AuthenticateSession), sessionID, hostCryptogram)
	copy(d.macChain[:], full)

	d.counter = 1
	resp := []byte{byte(command.AuthenticateSession.SuccessCode()), 0, 0}
	return resp, nil
}

func (d *fakeDevice) handleSessionMessage(body []byte) ([]byte, error) {
	sessionID := body[0]
	mac := body[len(body)-wire.MACSize:]
	ciphertext := body[1 : len(body)-wire.MACSize]

	full, _ := computeMAC(d.keys.macKey, d.macChain[:], byte(command.SessionMessage), sessionID, ciphertext)
	if string(full[:wire.MACSize]) != string(mac) {
		return nil, assertErr("device: c-mac mismatch")
	}
	copy(d.macChain[:], full)

	block, _ := aes.NewCipher(d.keys.encKey)
	iv := icvFor(block, d.counter)
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	unpadded, err := unpad(plain)
	if err != nil {
		return nil, err
	}

	innerCode := command.Code(unpadded[0])
	innerBody := unpadded[3:]

	var innerResp []byte
	switch innerCode {
	case command.Echo:
		innerResp = append([]byte{byte(command.Echo.SuccessCode()), 0, 0}, innerBody...)
		binary.BigEndian.PutUint16(innerResp[1:3], uint16(len(innerBody)))
	case command.CloseSession:
		innerResp = []byte{byte(command.CloseSession.SuccessCode()), 0, 0}
	default:
		panic("fakeDevice: unhandled inner command")
	}

	d.counter++
	padded := pad(innerResp)
	respCiphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(respCiphertext, padded)

	respFull, _ := computeMAC(d.keys.rmacKey, d.macChain[:], byte(command.SessionMessage.SuccessCode()), sessionID, respCiphertext)
	respMAC := respFull[:wire.MACSize]
	if d.tamperNextResponseMAC {
		respMAC = append([]byte{}, respMAC...)
		respMAC[0] ^= 0xff
		d.tamperNextResponseMAC = false
	}

	respBody := append([]byte{sessionID}, respCiphertext...)
	respBody = append(respBody, respMAC...)
	resp := make([]byte, 3+len(respBody))
	resp[0] = byte(command.SessionMessage.SuccessCode())
	binary.BigEndian.PutUint16(resp[1:3], uint16(len(respBody)))
	copy(resp[3:], respBody)
	return resp, nil
}

func (d *fakeDevice) errorResponse() []byte {
	return []byte{byte(command.ErrorResponse), 0, 1, 0x04}
}

func icvFor(block cipher.Block, counter uint32) []byte {
	padded := make([]byte, 16)
	binary.BigEndian.PutUint32(padded[12:], counter)
	iv := make([]byte, 16)
	block.Encrypt(iv, padded)
	return iv
}

type testErr string

func (e testErr) Error() string { return string(e) }
func assertErr(s string) error  { return testErr(s) }

func (d *fakeDevice) Healthcheck(_ context.Context) (connector.Status, error) {
	return connector.Status{Message: "OK"}, nil
}
func (d *fakeDevice) Close() error { return nil }

// TestDeriveSessionSecretsMatchesReferenceVectors pins the compatibility
// scenario of spec.md §8 scenario 1 against captured reference bytes,
// independently computed outside this package (PBKDF2-HMAC-SHA256 via
// Python's hashlib, AES-128-CMAC cross-checked against the NIST SP 800-38B
// empty-message test vector and an from-scratch CMAC implementation keyed
// off openssl's AES-ECB primitive). Password "password", salt "Yubico",
// all-zero host and card challenges. Unlike a test that only compares the
// Channel's derivation against another in-process caller of the same kdf
// function, this fails if the derivation (or the C-MAC framing it feeds)
// ever drifts from the real protocol.
func TestDeriveSessionSecretsMatchesReferenceVectors(t *testing.T) {
	key := authkey.FromPassword("password")
	ch := &Channel{authKey: key}
	// hostChallenge and cardChallenge are already all-zero (the zero
	// value), matching the reference vector's input.

	require.NoError(t, ch.deriveKeys())

	assert.Equal(t, "3868340c288eddd0ee9596757db89935", hex.EncodeToString(ch.keys.encKey))
	assert.Equal(t, "eca1fa52a659262e58813c3764031d4f", hex.EncodeToString(ch.keys.macKey))
	assert.Equal(t, "f09844f526cba26062496fca6d61b3a5", hex.EncodeToString(ch.keys.rmacKey))

	context := ch.context()
	cardCryptogram, err := kdf(ch.keys.macKey, derivationCardCryptogram, context, CryptogramLength*8)
	require.NoError(t, err)
	assert.Equal(t, "30ce3b481ca11ac8", hex.EncodeToString(cardCryptogram))

	hostCryptogram, err := kdf(ch.keys.macKey, derivationHostCryptogram, context, CryptogramLength*8)
	require.NoError(t, err)
	assert.Equal(t, "d3542dbe4a752976", hex.EncodeToString(hostCryptogram))

	// The authenticate-session C-MAC over session id 0 and the reference
	// host cryptogram: this is the one value that silently goes wrong if
	// computeMAC's internal length field omits the MAC trailer the real
	// frame carries, since that trailer length is folded into the bytes
	// being MACed.
	var zeroChain [16]byte
	authMAC, err := computeMAC(ch.keys.macKey, zeroChain[:], byte(command.AuthenticateSession), 0, hostCryptogram)
	require.NoError(t, err)
	assert.Equal(t, "fab7765cb582659d", hex.EncodeToString(authMAC[:wire.MACSize]))
}

func TestAuthenticateDerivesIdenticalSessionKeys(t *testing.T) {
	key := authkey.FromPassword("password")
	device := newFakeDevice(key)

	ch, err := New(device, 1, key)
	require.NoError(t, err)
	require.NoError(t, ch.Authenticate())

	assert.Equal(t, StateAuthenticated, ch.State())
	require.NotNil(t, ch.SessionID())
	assert.Equal(t, device.sessionID, *ch.SessionID())
	assert.Equal(t, device.keys.encKey, ch.keys.encKey)
	assert.Equal(t, device.keys.macKey, ch.keys.macKey)
	assert.Equal(t, device.keys.rmacKey, ch.keys.rmacKey)
	assert.Equal(t, uint32(1), ch.Counter())
}

func TestSendEncryptedEchoRoundtrip(t *testing.T) {
	key := authkey.FromPassword("password")
	device := newFakeDevice(key)

	ch, err := New(device, 1, key)
	require.NoError(t, err)
	require.NoError(t, ch.Authenticate())

	code, body, err := ch.SendEncrypted(command.Echo, []byte("hello hsm"))
	require.NoError(t, err)
	assert.Equal(t, command.Echo.SuccessCode(), code)
	assert.Equal(t, []byte("hello hsm"), body)
	assert.Equal(t, uint32(2), ch.Counter())
}

func TestSendEncryptedTamperedRMACTerminatesSession(t *testing.T) {
	key := authkey.FromPassword("password")
	device := newFakeDevice(key)

	ch, err := New(device, 1, key)
	require.NoError(t, err)
	require.NoError(t, ch.Authenticate())

	device.tamperNextResponseMAC = true
	_, _, err = ch.SendEncrypted(command.Echo, []byte("hello"))
	require.Error(t, err)
	assert.Equal(t, StateTerminated, ch.State())

	// A zeroed key confirms termination wiped session secrets.
	allZero := true
	for _, b := range ch.keys.encKey {
		if b != 0 {
			allZero = false
		}
	}
	assert.True(t, allZero)

	_, _, err = ch.SendEncrypted(command.Echo, []byte("again"))
	require.Error(t, err)
}

func TestSendEncryptedRejectsOnUnauthenticatedChannel(t *testing.T) {
	key := authkey.FromPassword("password")
	device := newFakeDevice(key)
	ch, err := New(device, 1, key)
	require.NoError(t, err)

	_, _, err = ch.SendEncrypted(command.Echo, []byte("x"))
	require.Error(t, err)
}

func TestCounterLimitTerminatesSession(t *testing.T) {
	key := authkey.FromPassword("password")
	device := newFakeDevice(key)

	ch, err := New(device, 1, key, WithCounterLimit(2))
	require.NoError(t, err)
	require.NoError(t, ch.Authenticate())

	_, _, err = ch.SendEncrypted(command.Echo, []byte("one"))
	require.Error(t, err)
	assert.True(t, ch.Counter() >= 2)
	assert.Equal(t, StateTerminated, ch.State())
}
