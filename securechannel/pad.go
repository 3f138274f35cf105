package securechannel

import (
	"crypto/aes"

	"github.com/corehsm/yubihsm-go/hsmerror"
)

// pad applies ISO/IEC 7816-4 padding: append 0x80, then zero bytes, until
// the result is a multiple of the AES block size. Unlike plain PKCS#7,
// this always appends at least one byte even when src is already block
// aligned, so unpad can unambiguously find the 0x80 marker.
func pad(src []byte) []byte {
	padded := make([]byte, 0, len(src)+aes.BlockSize)
	padded = append(padded, src...)
	padded = append(padded, 0x80)
	for len(padded)%aes.BlockSize != 0 {
		padded = append(padded, 0x00)
	}
	return padded
}

// unpad removes ISO/IEC 7816-4 padding, scanning back from the end for
// the 0x80 marker.
func unpad(src []byte) ([]byte, error) {
	for i := len(src) - 1; i >= 0; i-- {
		switch src[i] {
		case 0x00:
			continue
		case 0x80:
			return src[:i], nil
		default:
			return nil, hsmerror.New(hsmerror.KindVerifyFailed, "malformed iso7816-4 padding")
		}
	}
	return nil, hsmerror.New(hsmerror.KindVerifyFailed, "malformed iso7816-4 padding: no marker byte found")
}
