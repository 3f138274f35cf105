package commands

import (
	"encoding/binary"

	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/corehsm/yubihsm-go/securechannel"
)

// Session is the typed command registry bound to one secure channel.
// Every method here does exactly one thing: build a request body,
// dispatch it through the channel, and parse the matching response body.
// None of them know anything about framing, encryption, or MACs — that's
// securechannel's job.
type Session struct {
	channel *securechannel.Channel
}

// NewSession wraps an already-authenticated channel. Use the root
// package's client to obtain one; Session itself never authenticates.
func NewSession(channel *securechannel.Channel) *Session {
	return &Session{channel: channel}
}

// Echo sends data to the device unauthenticated and returns whatever it
// echoes back.
func (s *Session) Echo(data []byte) ([]byte, error) {
	code, body, err := s.channel.Send(command.Echo, data)
	if err != nil {
		return nil, err
	}
	if code != command.Echo.SuccessCode() {
		return nil, hsmerror.New(hsmerror.KindMismatchError, "unexpected response to echo")
	}
	return body, nil
}

// Ping is Echo with a single status byte, used as a lightweight
// liveness probe that does not require an open session.
func (s *Session) Ping() error {
	_, err := s.Echo([]byte{0x00})
	return err
}

// DeviceInfo is the parsed device-info response: firmware version,
// serial number, log-store occupancy, and supported algorithm tags.
type DeviceInfo struct {
	Major, Minor, Patch uint8
	SerialNumber        uint32
	LogStoreCapacity    uint8
	LogStoreUsed         uint8
	SupportedAlgorithms []command.Algorithm
}

// DeviceInfo queries the device unauthenticated (spec.md's supplemented
// device-identity feature).
func (s *Session) DeviceInfo() (DeviceInfo, error) {
	code, body, err := s.channel.Send(command.DeviceInfo, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	if code != command.DeviceInfo.SuccessCode() {
		return DeviceInfo{}, hsmerror.New(hsmerror.KindMismatchError, "unexpected response to device-info")
	}
	const fixedSize = 3 + 4 + 1 + 1
	if len(body) < fixedSize {
		return DeviceInfo{}, hsmerror.Newf(hsmerror.KindProtocolError, "device-info payload is %d bytes, need at least %d", len(body), fixedSize)
	}
	info := DeviceInfo{
		Major:            body[0],
		Minor:            body[1],
		Patch:            body[2],
		SerialNumber:     binary.BigEndian.Uint32(body[3:7]),
		LogStoreCapacity: body[7],
		LogStoreUsed:     body[8],
	}
	for _, tag := range body[fixedSize:] {
		info.SupportedAlgorithms = append(info.SupportedAlgorithms, command.Algorithm(tag))
	}
	return info, nil
}

// GetPseudoRandom returns count bytes of device-generated randomness.
func (s *Session) GetPseudoRandom(count uint16) ([]byte, error) {
	req := make([]byte, 2)
	binary.BigEndian.PutUint16(req, count)
	body, err := s.sendAuthenticated(command.GetPseudoRandom, req)
	if err != nil {
		return nil, err
	}
	if uint16(len(body)) != count {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "get-pseudo-random returned %d bytes, requested %d", len(body), count)
	}
	return body, nil
}

// ListObjects enumerates every object matching every supplied filter.
func (s *Session) ListObjects(filters ...ListFilter) ([]ObjectHandle, error) {
	body, err := s.sendAuthenticated(command.ListObjects, encodeListFilters(filters))
	if err != nil {
		return nil, err
	}
	return parseObjectHandles(body)
}

// GetObjectInfo fetches full attributes for one stored object.
func (s *Session) GetObjectInfo(id uint16, objType command.ObjectType) (ObjectInfo, error) {
	req := make([]byte, 3)
	binary.BigEndian.PutUint16(req[0:2], id)
	req[2] = byte(objType)
	body, err := s.sendAuthenticated(command.GetObjectInfo, req)
	if err != nil {
		return ObjectInfo{}, err
	}
	return parseObjectInfo(body)
}

// DeleteObject removes one stored object.
func (s *Session) DeleteObject(id uint16, objType command.ObjectType) error {
	req := []byte{byte(id >> 8), byte(id), byte(objType)}
	_, err := s.sendAuthenticated(command.DeleteObject, req)
	return err
}

// PutAuthenticationKeyParams describes a new authentication key to store.
type PutAuthenticationKeyParams struct {
	ObjectID              uint16
	Label                 command.Label
	Domains               command.Domain
	Capabilities          command.Capability
	DelegatedCapabilities command.Capability
	Key                   [32]byte // enc-key half || mac-key half, 16 bytes each
}

// PutAuthenticationKey stores a new authentication key and returns the
// object id it was assigned (echoing the caller's id if nonzero).
func (s *Session) PutAuthenticationKey(p PutAuthenticationKeyParams) (uint16, error) {
	req := make([]byte, 0, 2+command.LabelLength+2+8+8+1+32)
	req = binary.BigEndian.AppendUint16(req, p.ObjectID)
	req = append(req, p.Label[:]...)
	req = binary.BigEndian.AppendUint16(req, uint16(p.Domains))
	req = binary.BigEndian.AppendUint64(req, uint64(p.Capabilities))
	req = append(req, byte(command.AlgorithmYubicoAESAuthentication))
	req = binary.BigEndian.AppendUint64(req, uint64(p.DelegatedCapabilities))
	req = append(req, p.Key[:]...)

	body, err := s.sendAuthenticated(command.PutAuthenticationKey, req)
	if err != nil {
		return 0, err
	}
	if len(body) != 2 {
		return 0, hsmerror.Newf(hsmerror.KindProtocolError, "put-authentication-key response is %d bytes, expected 2", len(body))
	}
	return binary.BigEndian.Uint16(body), nil
}

// GenerateAsymmetricKeyParams describes a key to generate on-device.
type GenerateAsymmetricKeyParams struct {
	ObjectID     uint16
	Label        command.Label
	Domains      command.Domain
	Capabilities command.Capability
	Algorithm    command.Algorithm
}

// GenerateAsymmetricKey asks the device to generate a key pair in place
// and returns the object id it was assigned.
func (s *Session) GenerateAsymmetricKey(p GenerateAsymmetricKeyParams) (uint16, error) {
	req := make([]byte, 0, 2+command.LabelLength+2+8+1)
	req = binary.BigEndian.AppendUint16(req, p.ObjectID)
	req = append(req, p.Label[:]...)
	req = binary.BigEndian.AppendUint16(req, uint16(p.Domains))
	req = binary.BigEndian.AppendUint64(req, uint64(p.Capabilities))
	req = append(req, byte(p.Algorithm))

	body, err := s.sendAuthenticated(command.GenerateAsymmetricKey, req)
	if err != nil {
		return 0, err
	}
	if len(body) != 2 {
		return 0, hsmerror.Newf(hsmerror.KindProtocolError, "generate-asymmetric-key response is %d bytes, expected 2", len(body))
	}
	return binary.BigEndian.Uint16(body), nil
}

// PublicKey is the parsed get-public-key response.
type PublicKey struct {
	Algorithm command.Algorithm
	KeyData   []byte
}

// GetPublicKey fetches the public half of an asymmetric key pair.
func (s *Session) GetPublicKey(id uint16) (PublicKey, error) {
	req := make([]byte, 2)
	binary.BigEndian.PutUint16(req, id)
	body, err := s.sendAuthenticated(command.GetPublicKey, req)
	if err != nil {
		return PublicKey{}, err
	}
	if len(body) < 1 {
		return PublicKey{}, hsmerror.New(hsmerror.KindProtocolError, "get-public-key response missing algorithm byte")
	}
	return PublicKey{Algorithm: command.Algorithm(body[0]), KeyData: body[1:]}, nil
}

// SignEcdsa signs a pre-hashed digest with the given EC key.
func (s *Session) SignEcdsa(keyID uint16, digest []byte) ([]byte, error) {
	req := make([]byte, 2, 2+len(digest))
	binary.BigEndian.PutUint16(req, keyID)
	req = append(req, digest...)
	return s.sendAuthenticated(command.SignEcdsa, req)
}

// SignEddsa signs data with the given Ed25519 key (the device hashes
// internally; callers pass the message, not a digest).
func (s *Session) SignEddsa(keyID uint16, message []byte) ([]byte, error) {
	req := make([]byte, 2, 2+len(message))
	binary.BigEndian.PutUint16(req, keyID)
	req = append(req, message...)
	return s.sendAuthenticated(command.SignEddsa, req)
}

// SignHmac computes an HMAC over data using the given HMAC key.
func (s *Session) SignHmac(keyID uint16, data []byte) ([]byte, error) {
	req := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(req, keyID)
	req = append(req, data...)
	return s.sendAuthenticated(command.SignHmac, req)
}

// VerifyHmac checks a previously computed HMAC.
func (s *Session) VerifyHmac(keyID uint16, mac []byte, data []byte) (bool, error) {
	req := make([]byte, 2, 2+len(mac)+len(data))
	binary.BigEndian.PutUint16(req, keyID)
	req = append(req, mac...)
	req = append(req, data...)
	body, err := s.sendAuthenticated(command.VerifyHmac, req)
	if err != nil {
		return false, err
	}
	return len(body) == 1 && body[0] == 1, nil
}

// BlinkDevice makes the device blink its status LED for the given number
// of seconds, a harmless liveness signal used in integration tests.
func (s *Session) BlinkDevice(seconds uint8) error {
	_, err := s.sendAuthenticated(command.BlinkDevice, []byte{seconds})
	return err
}

// sendAuthenticated dispatches code through the session-message channel
// and validates the response code echoes code before returning the body.
func (s *Session) sendAuthenticated(code command.Code, body []byte) ([]byte, error) {
	respCode, respBody, err := s.channel.SendEncrypted(code, body)
	if err != nil {
		return nil, err
	}
	if respCode != code.SuccessCode() {
		return nil, hsmerror.Newf(hsmerror.KindMismatchError, "unexpected response code %v for %v", respCode, code)
	}
	return respBody, nil
}
