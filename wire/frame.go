// Package wire implements the framed command/response codec of spec.md
// §4.1: fixed headers, optional session id, optional truncated-MAC
// trailer. It performs no cryptography — that's package securechannel's
// job — and is shared by both the unauthenticated handshake commands and
// the inner/outer frames the secure channel wraps.
package wire

import (
	"encoding/binary"

	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/google/uuid"
	"golang.org/x/crypto/cryptobyte"
)

// MaxFrameSize is the maximum encoded frame size in bytes (spec.md §4.1).
const MaxFrameSize = 2048

// MACSize is the truncated MAC trailer length carried on the wire.
const MACSize = 8

// CommandFrame is a parsed or to-be-encoded command frame.
type CommandFrame struct {
	// ID is a process-local correlation identifier generated when the
	// frame is created, used only for logging; it is never transmitted.
	ID        uuid.UUID
	Code      command.Code
	SessionID *uint8
	Body      []byte
	MAC       []byte // exactly MACSize bytes when present
}

// ResponseFrame is a parsed response frame.
type ResponseFrame struct {
	ID        uuid.UUID
	Code      command.ResponseCode
	SessionID *uint8
	Body      []byte
	MAC       []byte
}

// NewCommandFrame builds a CommandFrame with a fresh correlation id.
func NewCommandFrame(code command.Code, sessionID *uint8, body []byte, mac []byte) *CommandFrame {
	return &CommandFrame{
		ID:        uuid.New(),
		Code:      code,
		SessionID: sessionID,
		Body:      body,
		MAC:       mac,
	}
}

// bodyLength computes the byte length of everything after the 3-byte
// code+length header: optional session id, body, optional MAC.
func bodyLength(sessionID *uint8, body []byte, mac []byte) int {
	n := len(body)
	if sessionID != nil {
		n++
	}
	n += len(mac)
	return n
}

// EncodeCommand serializes f per spec.md §4.1. Session id and MAC
// presence are governed by f.Code; callers are expected to have already
// set SessionID/MAC consistently with command.CommandHasSessionID/
// CommandHasMAC, but EncodeCommand does not itself enforce that — callers
// one layer up (securechannel) own that invariant since only they know
// whether a frame is still mid-handshake.
func EncodeCommand(f *CommandFrame) ([]byte, error) {
	total := bodyLength(f.SessionID, f.Body, f.MAC)
	if total+3 > MaxFrameSize {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "encoded frame would be %d bytes, max %d", total+3, MaxFrameSize).
			With("command_code", uint8(f.Code))
	}

	out := make([]byte, 0, 3+total)
	out = append(out, byte(f.Code))
	out = binary.BigEndian.AppendUint16(out, uint16(total))
	if f.SessionID != nil {
		out = append(out, *f.SessionID)
	}
	out = append(out, f.Body...)
	out = append(out, f.MAC...)
	return out, nil
}

// DecodeResponse parses data per spec.md §4.1, never panicking or
// overreading regardless of what an adversarial or corrupted device
// sends. Field reads walk a cryptobyte cursor rather than manual slice
// indices, so a truncated or lying length header fails the read instead
// of panicking or silently overrunning.
func DecodeResponse(data []byte) (*ResponseFrame, error) {
	s := cryptobyte.String(data)

	var codeByte uint8
	var declared uint16
	if !s.ReadUint8(&codeByte) || !s.ReadUint16(&declared) {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "short frame: %d bytes (need at least 3)", len(data))
	}

	code := command.ResponseCode(codeByte)
	if !code.IsError() {
		if cmd, ok := code.Command(); !ok || !cmd.IsKnown() {
			return nil, hsmerror.Newf(hsmerror.KindProtocolError, "unknown response code: 0x%02x", codeByte)
		}
	}

	var rest []byte
	if !s.ReadBytes(&rest, int(declared)) || !s.Empty() {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError,
			"length mismatch: header declares %d bytes but %d remain", declared, len(s)).
			With("response_code", uint8(code))
	}

	f := &ResponseFrame{ID: uuid.New(), Code: code}
	body := cryptobyte.String(rest)

	if command.ResponseHasSessionID(code) {
		var id uint8
		if !body.ReadUint8(&id) {
			return nil, hsmerror.New(hsmerror.KindProtocolError, "missing session id").With("response_code", uint8(code))
		}
		f.SessionID = &id
	}

	if command.ResponseHasMAC(code) {
		if len(body) < MACSize {
			return nil, hsmerror.Newf(hsmerror.KindProtocolError, "missing mac: %d bytes remain, need %d", len(body), MACSize).
				With("response_code", uint8(code))
		}
		var payload []byte
		if !body.ReadBytes(&payload, len(body)-MACSize) {
			return nil, hsmerror.New(hsmerror.KindProtocolError, "malformed body/mac split").With("response_code", uint8(code))
		}
		f.Body = append([]byte(nil), payload...)
		f.MAC = append([]byte(nil), body...)
		return f, nil
	}

	f.Body = append([]byte(nil), body...)
	return f, nil
}
