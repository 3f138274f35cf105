// Package command defines the wire-level enumerations shared by the
// framed codec and the typed command registry: command codes, response
// codes, and the frame-shape rules (session id / MAC presence) that
// depend solely on a code (spec.md §3, §4.1, §6).
package command

// Code is a one-byte command code (spec.md §6). The full table is
// normative; it is not a closed Go enum, so an unknown code is still a
// representable value (String reports "unknown-command", IsKnown reports
// false), but wire.DecodeResponse rejects a response whose code answers a
// command outside the table with a protocol error.
type Code uint8

const (
	Echo                     Code = 0x01
	CreateSession            Code = 0x03
	AuthenticateSession      Code = 0x04
	SessionMessage           Code = 0x05
	DeviceInfo               Code = 0x06
	ResetDevice              Code = 0x08
	CloseSession             Code = 0x40
	GetStorageInfo           Code = 0x41
	PutOpaque                Code = 0x42
	GetOpaque                Code = 0x43
	PutAuthenticationKey     Code = 0x44
	PutAsymmetricKey         Code = 0x45
	GenerateAsymmetricKey    Code = 0x46
	SignPkcs1                Code = 0x47
	ListObjects              Code = 0x48
	DecryptPkcs1             Code = 0x49
	ExportWrapped            Code = 0x4a
	ImportWrapped            Code = 0x4b
	PutWrapKey               Code = 0x4c
	GetLogEntries            Code = 0x4d
	GetObjectInfo            Code = 0x4e
	SetOption                Code = 0x4f
	GetOption                Code = 0x50
	GetPseudoRandom          Code = 0x51
	PutHmacKey               Code = 0x52
	SignHmac                 Code = 0x53
	GetPublicKey             Code = 0x54
	SignPss                  Code = 0x55
	SignEcdsa                Code = 0x56
	DeriveEcdh               Code = 0x57
	DeleteObject             Code = 0x58
	DecryptOaep              Code = 0x59
	GenerateHmacKey          Code = 0x5a
	GenerateWrapKey          Code = 0x5b
	VerifyHmac               Code = 0x5c
	SignSshCertificate       Code = 0x5d
	PutTemplate              Code = 0x5e
	GetTemplate              Code = 0x5f
	DecryptOtp               Code = 0x60
	CreateOtpAead            Code = 0x61
	RandomizeOtpAead         Code = 0x62
	RewrapOtpAead            Code = 0x63
	SignAttestationCertificate Code = 0x64
	PutOtpAeadKey            Code = 0x65
	GenerateOtpAeadKey       Code = 0x66
	SetLogIndex              Code = 0x67
	WrapData                 Code = 0x68
	UnwrapData               Code = 0x69
	SignEddsa                Code = 0x6a
	BlinkDevice              Code = 0x6b
	ChangeAuthenticationKey  Code = 0x6c
)

var codeNames = map[Code]string{
	Echo:                       "echo",
	CreateSession:              "create-session",
	AuthenticateSession:        "authenticate-session",
	SessionMessage:             "session-message",
	DeviceInfo:                 "device-info",
	ResetDevice:                "reset-device",
	CloseSession:               "close-session",
	GetStorageInfo:             "get-storage-info",
	PutOpaque:                  "put-opaque",
	GetOpaque:                  "get-opaque",
	PutAuthenticationKey:       "put-authentication-key",
	PutAsymmetricKey:           "put-asymmetric-key",
	GenerateAsymmetricKey:      "generate-asymmetric-key",
	SignPkcs1:                  "sign-pkcs1",
	ListObjects:                "list-objects",
	DecryptPkcs1:               "decrypt-pkcs1",
	ExportWrapped:              "export-wrapped",
	ImportWrapped:              "import-wrapped",
	PutWrapKey:                 "put-wrap-key",
	GetLogEntries:              "get-log-entries",
	GetObjectInfo:              "get-object-info",
	SetOption:                  "set-option",
	GetOption:                  "get-option",
	GetPseudoRandom:            "get-pseudo-random",
	PutHmacKey:                 "put-hmac-key",
	SignHmac:                   "sign-hmac",
	GetPublicKey:               "get-public-key",
	SignPss:                    "sign-pss",
	SignEcdsa:                  "sign-ecdsa",
	DeriveEcdh:                 "derive-ecdh",
	DeleteObject:               "delete-object",
	DecryptOaep:                "decrypt-oaep",
	GenerateHmacKey:            "generate-hmac-key",
	GenerateWrapKey:            "generate-wrap-key",
	VerifyHmac:                 "verify-hmac",
	SignSshCertificate:         "sign-ssh-certificate",
	PutTemplate:                "put-template",
	GetTemplate:                "get-template",
	DecryptOtp:                 "decrypt-otp",
	CreateOtpAead:              "create-otp-aead",
	RandomizeOtpAead:           "randomize-otp-aead",
	RewrapOtpAead:              "rewrap-otp-aead",
	SignAttestationCertificate: "sign-attestation-certificate",
	PutOtpAeadKey:              "put-otp-aead-key",
	GenerateOtpAeadKey:         "generate-otp-aead-key",
	SetLogIndex:                "set-log-index",
	WrapData:                   "wrap-data",
	UnwrapData:                 "unwrap-data",
	SignEddsa:                  "sign-eddsa",
	BlinkDevice:                "blink-device",
	ChangeAuthenticationKey:    "change-authentication-key",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown-command"
}

// IsKnown reports whether c is one of the codes in the normative table
// (spec.md §6).
func (c Code) IsKnown() bool {
	_, ok := codeNames[c]
	return ok
}

// responseOffset is added to a command Code to produce the ResponseCode
// of a successful response to that command (spec.md §3).
const responseOffset = 0x80

// ErrorResponse is the response code (0x7f) carrying a device error kind
// in its one-byte body.
const ErrorResponse ResponseCode = 0x7f

// ResponseCode is a one-byte response code. A successful response encodes
// the original command code plus responseOffset; an error response
// encodes ErrorResponse.
type ResponseCode uint8

// SuccessCode returns the ResponseCode for a successful response to c.
func (c Code) SuccessCode() ResponseCode {
	return ResponseCode(uint8(c) + responseOffset)
}

// Command returns the Code a successful ResponseCode answers, and false
// if rc is not a success code (e.g. it is the error response code).
func (rc ResponseCode) Command() (Code, bool) {
	if rc == ErrorResponse {
		return 0, false
	}
	raw := uint8(rc)
	if raw < responseOffset {
		return 0, false
	}
	return Code(raw - responseOffset), true
}

// IsError reports whether rc is the error response code.
func (rc ResponseCode) IsError() bool {
	return rc == ErrorResponse
}

func (rc ResponseCode) String() string {
	if rc.IsError() {
		return "error"
	}
	if cmd, ok := rc.Command(); ok {
		return "success(" + cmd.String() + ")"
	}
	return "unknown-response"
}
