package command

import "github.com/corehsm/yubihsm-go/hsmerror"

// Algorithm, Domain, Capability, ObjectType and Label are the
// object-attribute vocabulary spec.md §1 calls out as an external
// collaborator: this module carries just enough of it to exercise the
// command registry's request/response shapes, not an exhaustive byte-tag
// table for every cipher suite the device supports.

// Algorithm identifies a cryptographic algorithm by its one-byte tag.
type Algorithm uint8

const (
	AlgorithmRSAPKCS1SHA256 Algorithm = 1
	AlgorithmRSAPKCS1SHA384 Algorithm = 2
	AlgorithmRSAPKCS1SHA512 Algorithm = 3
	AlgorithmEC_P256        Algorithm = 12
	AlgorithmEC_Secp256k1   Algorithm = 15
	AlgorithmHMACSHA256     Algorithm = 19
	AlgorithmHMACSHA384     Algorithm = 20
	AlgorithmHMACSHA512     Algorithm = 21
	AlgorithmAES128CCMWrap  Algorithm = 29
	AlgorithmAES192CCMWrap  Algorithm = 37
	AlgorithmAES256CCMWrap  Algorithm = 38
	AlgorithmEC_ED25519     Algorithm = 46
)

// AlgorithmYubicoAESAuthentication is the algorithm tag used for
// password/AES-derived authentication keys (put-authentication-key,
// change-authentication-key).
const AlgorithmYubicoAESAuthentication Algorithm = 39

// Domain is the 16-bit domain bitset (spec.md §4.5: "Bit-flag sets encode
// big-endian in their natural width").
type Domain uint16

const (
	Domain1  Domain = 1 << iota
	Domain2
	Domain3
	Domain4
	Domain5
	Domain6
	Domain7
	Domain8
	Domain9
	Domain10
	Domain11
	Domain12
	Domain13
	Domain14
	Domain15
	Domain16
)

// AllDomains is every domain bit set.
const AllDomains Domain = 0xffff

// Capability is the 64-bit capability bitset.
type Capability uint64

const (
	CapabilityGetOpaque              Capability = 1 << iota
	CapabilityPutOpaque
	CapabilityPutAuthenticationKey
	CapabilityPutAsymmetricKey
	CapabilityGenerateAsymmetricKey
	CapabilityAsymmetricSignPkcs1
	CapabilityAsymmetricSignPss
	CapabilityAsymmetricSignEcdsa
	CapabilityAsymmetricSignEddsa
	CapabilityAsymmetricDecryptPkcs1
	CapabilityAsymmetricDecryptOaep
	CapabilityAsymmetricDecryptEcdh
	CapabilityExportWrapped
	CapabilityImportWrapped
	CapabilityPutWrapKey
	CapabilityGenerateWrapKey
	CapabilityExportUnderWrap
	CapabilitySetOption
	CapabilityGetOption
	CapabilityGetRandomness
	CapabilityPutHmacKey
	CapabilityGenerateHmacKey
	CapabilitySignHmac
	CapabilityVerifyHmac
	CapabilityAudit
	CapabilitySshCertify
	CapabilityGetTemplate
	CapabilityPutTemplate
	CapabilityResetDevice
	CapabilityDecryptOtp
	CapabilityCreateOtpAead
	CapabilityRandomizeOtpAead
	CapabilityRewrapFromOtpAeadKey
	CapabilityRewrapToOtpAeadKey
	CapabilitySignAttestationCertificate
	CapabilityPutOtpAeadKey
	CapabilityGenerateOtpAeadKey
	CapabilityWrapData
	CapabilityUnwrapData
	CapabilityDeleteOpaque
	CapabilityDeleteAuthenticationKey
	CapabilityDeleteAsymmetricKey
	CapabilityDeleteWrapKey
	CapabilityDeleteHmacKey
	CapabilityDeleteTemplate
	CapabilityDeleteOtpAeadKey
	CapabilityChangeAuthenticationKey
)

// ObjectType identifies the kind of object an object id refers to.
type ObjectType uint8

const (
	ObjectTypeOpaque            ObjectType = 0x01
	ObjectTypeAuthenticationKey ObjectType = 0x02
	ObjectTypeAsymmetricKey     ObjectType = 0x03
	ObjectTypeWrapKey           ObjectType = 0x04
	ObjectTypeHmacKey           ObjectType = 0x05
	ObjectTypeTemplate          ObjectType = 0x06
	ObjectTypeOtpAeadKey        ObjectType = 0x07
)

// LabelLength is the fixed, NUL-padded length of an object label
// (spec.md §4.5).
const LabelLength = 40

// Label encodes a human-readable object label as exactly LabelLength
// bytes, trailing-NUL padded. Encoding a label longer than LabelLength
// fails.
type Label [LabelLength]byte

// NewLabel builds a Label from a string, failing if it overflows
// LabelLength.
func NewLabel(s string) (Label, error) {
	var l Label
	if len(s) > LabelLength {
		return l, hsmerror.Newf(hsmerror.KindProtocolError, "label %q is %d bytes, max %d", s, len(s), LabelLength)
	}
	copy(l[:], s)
	return l, nil
}

// String trims the trailing NUL padding.
func (l Label) String() string {
	n := len(l)
	for n > 0 && l[n-1] == 0 {
		n--
	}
	return string(l[:n])
}
