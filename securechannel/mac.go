package securechannel

import (
	"crypto/aes"

	"github.com/enceve/crypto/cmac"
	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/corehsm/yubihsm-go/wire"
)

// computeMAC implements the chained AES-128-CMAC of spec.md §4.2: each
// C-MAC (and, independently, each R-MAC) is computed over the previous
// full-width chaining value followed by the unsigned frame (code, length,
// session id, body). The chaining value advances only via C-MAC — the
// R-MAC side recomputes against whatever chaining value the host last
// produced and never folds its own output back in.
//
// code is the raw wire byte the MAC is keyed to: the command code for a
// C-MAC, the response code byte as received for an R-MAC (e.g. 0x85 for
// a successful session-message response).
func computeMAC(key []byte, chainValue []byte, code byte, sessionID uint8, body []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "mac: key must be %d bytes, got %d", KeyLength, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindVerifyFailed, err, "failed to init mac cipher")
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindVerifyFailed, err, "failed to init cmac")
	}

	length := 1 + len(body) + wire.MACSize // session id + body + the mac trailer this frame will carry
	header := []byte{code, byte(length >> 8), byte(length), sessionID}

	if _, err := mac.Write(chainValue); err != nil {
		return nil, err
	}
	if _, err := mac.Write(header); err != nil {
		return nil, err
	}
	if _, err := mac.Write(body); err != nil {
		return nil, err
	}

	return mac.Sum(nil), nil
}
