// Package securechannel implements the GlobalPlatform-SCP03-like secure
// channel of spec.md §4.2: handshake, session-key derivation, per-message
// AES-CBC encryption, chained AES-CMAC integrity, the message counter,
// and deterministic termination on any cryptographic failure.
//
// A Channel is single-use: once Terminated it must be discarded and a
// fresh one built by the session manager (the module's root package). Callers
// are responsible for serializing access to a Channel (spec.md §4.3) —
// Channel itself assumes at most one command is in flight at a time.
package securechannel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"log/slog"

	"github.com/corehsm/yubihsm-go/authkey"
	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/connector"
	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/corehsm/yubihsm-go/internal/zero"
	"github.com/corehsm/yubihsm-go/wire"
)

const (
	// KeyLength is the size in bytes of each session key and of each
	// authentication-key half.
	KeyLength = 16
	// ChallengeLength is the size in bytes of the host and card
	// challenges.
	ChallengeLength = 8
	// CryptogramLength is the size in bytes of a handshake cryptogram.
	CryptogramLength = 8

	// DefaultCounterLimit is the message-count cap at which the session
	// must terminate cleanly (spec.md §3, §4.2).
	DefaultCounterLimit uint32 = 1 << 20
)

// State is the session lifecycle of spec.md §3.
type State uint8

const (
	StateFresh State = iota
	StateAuthenticated
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// keyChain holds the three session keys derived at handshake time.
// Zeroized as a unit on termination.
type keyChain struct {
	encKey  []byte
	macKey  []byte
	rmacKey []byte
}

func (k *keyChain) zero() {
	zero.Bytes(k.encKey)
	zero.Bytes(k.macKey)
	zero.Bytes(k.rmacKey)
}

// Channel is one authenticated (or not-yet-authenticated) secure channel
// to a single HSM session.
type Channel struct {
	conn        connector.Connector
	authKeyID   uint16
	authKey     authkey.Key
	counterCap  uint32
	logger      *slog.Logger

	sessionID     *uint8
	state         State
	counter       uint32
	macChainValue [16]byte

	hostChallenge [ChallengeLength]byte
	cardChallenge [ChallengeLength]byte

	keys keyChain
}

// Option configures a Channel at construction time.
type Option func(*Channel)

// WithCounterLimit overrides the default 2^20 message-count cap, so tests
// (e.g. TestCounterLimitTerminatesSession) can reach the limit without
// issuing a million commands.
func WithCounterLimit(limit uint32) Option {
	return func(c *Channel) { c.counterCap = limit }
}

// WithLogger overrides the channel's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// New creates a fresh, unauthenticated Channel bound to authKeyID and
// generates the host challenge. Call Authenticate next.
func New(conn connector.Connector, authKeyID uint16, key authkey.Key, opts ...Option) (*Channel, error) {
	ch := &Channel{
		conn:       conn,
		authKeyID:  authKeyID,
		authKey:    key,
		counterCap: DefaultCounterLimit,
		logger:     slog.Default(),
		state:      StateFresh,
	}
	for _, opt := range opts {
		opt(ch)
	}

	if _, err := rand.Read(ch.hostChallenge[:]); err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to generate host challenge")
	}

	return ch, nil
}

// State reports the channel's current lifecycle state.
func (ch *Channel) State() State { return ch.state }

// SessionID reports the device-assigned session id, or nil if the
// handshake has not completed create-session yet.
func (ch *Channel) SessionID() *uint8 { return ch.sessionID }

// Counter reports the current message counter.
func (ch *Channel) Counter() uint32 { return ch.counter }

// Authenticate runs the create-session / authenticate-session handshake
// of spec.md §4.2.
func (ch *Channel) Authenticate() error {
	if ch.state != StateFresh {
		return hsmerror.New(hsmerror.KindProtocolError, "channel is not fresh; build a new one to re-authenticate")
	}

	createBody := make([]byte, 0, 2+ChallengeLength)
	createBody = binary.BigEndian.AppendUint16(createBody, ch.authKeyID)
	createBody = append(createBody, ch.hostChallenge[:]...)

	respFrame, err := ch.sendPlain(command.CreateSession, createBody)
	if err != nil {
		return err
	}
	if respFrame.Code != command.CreateSession.SuccessCode() {
		return ch.deviceOrMismatch(respFrame, command.CreateSession)
	}
	// wire.DecodeResponse has already split the session id off into
	// respFrame.SessionID; Body holds card challenge || card cryptogram.
	if respFrame.SessionID == nil || len(respFrame.Body) != ChallengeLength+CryptogramLength {
		ch.terminate()
		return hsmerror.Newf(hsmerror.KindProtocolError, "create-session response body is %d bytes, expected %d",
			len(respFrame.Body), ChallengeLength+CryptogramLength)
	}

	sessionID := *respFrame.SessionID
	ch.sessionID = &sessionID
	copy(ch.cardChallenge[:], respFrame.Body[:ChallengeLength])
	cardCryptogram := respFrame.Body[ChallengeLength:]

	if err := ch.deriveKeys(); err != nil {
		ch.terminate()
		return err
	}

	context := ch.context()
	expectedCardCryptogram, err := kdf(ch.keys.macKey, derivationCardCryptogram, context, CryptogramLength*8)
	if err != nil {
		ch.terminate()
		return err
	}
	if subtle.ConstantTimeCompare(expectedCardCryptogram, cardCryptogram) != 1 {
		ch.terminate()
		return hsmerror.New(hsmerror.KindAuthenticationError, "card cryptogram mismatch").With("session_id", sessionID)
	}

	hostCryptogram, err := kdf(ch.keys.macKey, derivationHostCryptogram, context, CryptogramLength*8)
	if err != nil {
		ch.terminate()
		return err
	}

	// The authenticate-session C-MAC starts from an all-zero chaining
	// value; this is the first entry in the chain.
	var zeroChain [16]byte
	authRespFrame, err := ch.sendWithMAC(command.AuthenticateSession, sessionID, hostCryptogram, zeroChain[:])
	if err != nil {
		ch.terminate()
		return err
	}
	if authRespFrame.Code != command.AuthenticateSession.SuccessCode() {
		ch.terminate()
		return ch.deviceOrMismatch(authRespFrame, command.AuthenticateSession)
	}

	ch.counter = 1
	ch.state = StateAuthenticated
	ch.logger.Debug("secure channel authenticated", "session_id", sessionID)
	return nil
}

// context is the KDF context: host challenge || card challenge.
func (ch *Channel) context() []byte {
	ctx := make([]byte, 0, 2*ChallengeLength)
	ctx = append(ctx, ch.hostChallenge[:]...)
	ctx = append(ctx, ch.cardChallenge[:]...)
	return ctx
}

func (ch *Channel) deriveKeys() error {
	context := ch.context()

	encKey, err := kdf(ch.authKey.EncKey(), derivationEncKey, context, KeyLength*8)
	if err != nil {
		return err
	}
	macKey, err := kdf(ch.authKey.MacKey(), derivationMacKey, context, KeyLength*8)
	if err != nil {
		return err
	}
	rmacKey, err := kdf(ch.authKey.MacKey(), derivationRMacKey, context, KeyLength*8)
	if err != nil {
		return err
	}

	ch.keys = keyChain{encKey: encKey, macKey: macKey, rmacKey: rmacKey}
	return nil
}

// Send issues an unauthenticated command. Only valid before
// Authenticate() succeeds (or for the handful of codes that are always
// unauthenticated, like echo and device-info, issued outside a session).
func (ch *Channel) Send(code command.Code, body []byte) (command.ResponseCode, []byte, error) {
	if ch.state == StateTerminated {
		return 0, nil, hsmerror.New(hsmerror.KindClosedSessionError, "channel is terminated")
	}
	frame, err := ch.sendPlain(code, body)
	if err != nil {
		return 0, nil, err
	}
	return frame.Code, frame.Body, nil
}

// SendEncrypted issues an authenticated, encrypted command inside a
// session-message frame and returns the decrypted inner response
// (spec.md §4.2).
func (ch *Channel) SendEncrypted(code command.Code, body []byte) (command.ResponseCode, []byte, error) {
	if ch.state != StateAuthenticated {
		return 0, nil, hsmerror.New(hsmerror.KindClosedSessionError, "channel is not authenticated")
	}
	if ch.counter >= ch.counterCap {
		ch.terminate()
		return 0, nil, hsmerror.Newf(hsmerror.KindCommandLimitExceeded, "session reached its %d-message limit", ch.counterCap)
	}

	sessionID := *ch.sessionID

	innerFrame := wire.NewCommandFrame(code, nil, body, nil)
	innerBytes, err := wire.EncodeCommand(innerFrame)
	if err != nil {
		return 0, nil, err
	}

	cipherBlock, err := aes.NewCipher(ch.keys.encKey)
	if err != nil {
		ch.terminate()
		return 0, nil, hsmerror.Wrap(hsmerror.KindVerifyFailed, err, "failed to init cipher")
	}
	iv := ch.icv(cipherBlock, ch.counter)

	plaintext := pad(innerBytes)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(cipherBlock, iv).CryptBlocks(ciphertext, plaintext)

	respFrame, err := ch.sendWithMAC(command.SessionMessage, sessionID, ciphertext, ch.macChainValue[:])
	if err != nil {
		ch.terminate()
		return 0, nil, err
	}
	// sendWithMAC has now advanced ch.macChainValue to this command's
	// C-MAC; the R-MAC below is verified against that same value.

	if respFrame.Code != command.SessionMessage.SuccessCode() {
		ch.terminate()
		return 0, nil, ch.deviceOrMismatch(respFrame, command.SessionMessage)
	}
	if respFrame.SessionID == nil || *respFrame.SessionID != sessionID {
		ch.terminate()
		return 0, nil, hsmerror.New(hsmerror.KindMismatchError, "response session id does not match").With("session_id", sessionID)
	}
	if respFrame.MAC == nil {
		ch.terminate()
		return 0, nil, hsmerror.New(hsmerror.KindProtocolError, "session-message response missing r-mac")
	}

	// R-MAC is verified against the chaining value the host last wrote
	// for its C-MAC; it must NOT itself advance the chaining value.
	expectedRMAC, err := computeMAC(ch.keys.rmacKey, ch.macChainValue[:], byte(respFrame.Code), sessionID, respFrame.Body)
	if err != nil {
		ch.terminate()
		return 0, nil, err
	}
	if subtle.ConstantTimeCompare(expectedRMAC[:wire.MACSize], respFrame.MAC) != 1 {
		ch.terminate()
		return 0, nil, hsmerror.New(hsmerror.KindVerifyFailed, "response mac mismatch").With("session_id", sessionID)
	}

	ch.counter++

	plain := make([]byte, len(respFrame.Body))
	cipher.NewCBCDecrypter(cipherBlock, iv).CryptBlocks(plain, respFrame.Body)
	unpadded, err := unpad(plain)
	if err != nil {
		ch.terminate()
		return 0, nil, err
	}

	innerResp, err := wire.DecodeResponse(prependHeaderForReparse(unpadded))
	if err != nil {
		ch.terminate()
		return 0, nil, err
	}

	if !innerResp.Code.IsError() {
		cmd, ok := innerResp.Code.Command()
		if !ok || cmd != code {
			ch.terminate()
			return 0, nil, hsmerror.Newf(hsmerror.KindMismatchError, "response echoes command %v, expected %v", cmd, code)
		}
	}

	if ch.counter >= ch.counterCap {
		ch.terminate()
		return innerResp.Code, innerResp.Body, hsmerror.Newf(hsmerror.KindCommandLimitExceeded, "session reached its %d-message limit", ch.counterCap)
	}

	return innerResp.Code, innerResp.Body, nil
}

// prependHeaderForReparse re-attaches the code+length header that the
// inner command frame bytes carried before CBC-encryption so
// wire.DecodeResponse (which expects a full frame) can parse it again.
// The inner frame written by wire.EncodeCommand already starts with that
// header, so this is the identity function; it exists as a named seam so
// the reparse step reads as intentional rather than a coincidence of
// pad/unpad leaving the header untouched.
func prependHeaderForReparse(b []byte) []byte { return b }

func (ch *Channel) icv(block cipher.Block, counter uint32) []byte {
	padded := make([]byte, 16)
	binary.BigEndian.PutUint32(padded[12:], counter)
	iv := make([]byte, 16)
	block.Encrypt(iv, padded)
	return iv
}

// sendPlain sends a command frame with no session id and no MAC.
func (ch *Channel) sendPlain(code command.Code, body []byte) (*wire.ResponseFrame, error) {
	frame := wire.NewCommandFrame(code, nil, body, nil)
	encoded, err := wire.EncodeCommand(frame)
	if err != nil {
		return nil, err
	}
	raw, err := ch.conn.SendMessage(frame.ID, encoded)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "transport send failed")
	}
	return wire.DecodeResponse(raw)
}

// sendWithMAC sends a command frame carrying a session id and a C-MAC
// computed over chainValue, and advances ch.macChainValue to the full
// (untruncated) CMAC output — the only operation that ever does. Used
// both for authenticate-session (body is plaintext, chainValue is the
// all-zero starting chain) and session-message (body is already
// ciphertext, chainValue is the running chain).
func (ch *Channel) sendWithMAC(code command.Code, sessionID uint8, body []byte, chainValue []byte) (*wire.ResponseFrame, error) {
	full, err := computeMAC(ch.keys.macKey, chainValue, byte(code), sessionID, body)
	if err != nil {
		return nil, err
	}
	copy(ch.macChainValue[:], full)

	frame := wire.NewCommandFrame(code, &sessionID, body, full[:wire.MACSize])
	encoded, err := wire.EncodeCommand(frame)
	if err != nil {
		return nil, err
	}
	raw, err := ch.conn.SendMessage(frame.ID, encoded)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "transport send failed")
	}
	return wire.DecodeResponse(raw)
}

func (ch *Channel) deviceOrMismatch(frame *wire.ResponseFrame, expected command.Code) error {
	if frame.Code.IsError() {
		if len(frame.Body) == 1 {
			return hsmerror.Device(hsmerror.DeviceErrorKind(frame.Body[0])).With("command_code", uint8(expected))
		}
		return hsmerror.New(hsmerror.KindResponseError, "device returned an error response").With("command_code", uint8(expected))
	}
	return hsmerror.Newf(hsmerror.KindMismatchError, "unexpected response code %v for command %v", frame.Code, expected)
}

// terminate transitions the channel to Terminated and zeroizes all
// session secrets. Sticky: once called, every subsequent operation fails
// with ClosedSessionError.
func (ch *Channel) terminate() {
	if ch.state == StateTerminated {
		return
	}
	ch.state = StateTerminated
	ch.keys.zero()
	zero.Bytes(ch.macChainValue[:])
	ch.logger.Warn("secure channel terminated")
}

// Close sends close-session (if authenticated) and terminates the
// channel locally regardless of whether the device acknowledges it.
func (ch *Channel) Close() error {
	defer ch.terminate()
	if ch.state != StateAuthenticated {
		return nil
	}
	_, _, err := ch.SendEncrypted(command.CloseSession, nil)
	return err
}
