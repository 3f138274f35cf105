package securechannel

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/enceve/crypto/cmac"
	"github.com/corehsm/yubihsm-go/hsmerror"
)

// derivationConstant selects which session secret a kdf call derives
// (spec.md §4.2).
type derivationConstant byte

const (
	derivationEncKey         derivationConstant = 0b100
	derivationMacKey         derivationConstant = 0b110
	derivationRMacKey        derivationConstant = 0b111
	derivationCardCryptogram derivationConstant = 0x00
	derivationHostCryptogram derivationConstant = 0x01
)

// kdf implements the CMAC-based counter-mode KDF of spec.md §4.2 (NIST SP
// 800-108 shape, fixed to a single block / single iteration since every
// derived value here is ≤128 bits):
//
//	block  := 11 zero bytes || D || 0x00 || L_be16 || 0x01 || context
//	output := first ceil(L/8) bytes of AES-128-CMAC(key, block)
func kdf(key []byte, d derivationConstant, context []byte, outputBits uint16) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "kdf: parent key must be %d bytes, got %d", KeyLength, len(key))
	}

	block := make([]byte, 0, 11+1+1+2+1+len(context))
	block = append(block, make([]byte, 11)...)
	block = append(block, byte(d))
	block = append(block, 0x00)
	block = binary.BigEndian.AppendUint16(block, outputBits)
	block = append(block, 0x01)
	block = append(block, context...)

	cipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mac, err := cmac.New(cipher)
	if err != nil {
		return nil, err
	}
	if _, err := mac.Write(block); err != nil {
		return nil, err
	}

	full := mac.Sum(nil)
	outputBytes := (outputBits + 7) / 8
	return full[:outputBytes], nil
}
