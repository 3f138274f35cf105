// Package authkey implements the 32-byte authentication key shared with
// the HSM (spec.md §3): its two 16-byte halves, derivation from a
// password via PBKDF2-HMAC-SHA256, and an explicit Zero method for
// wiping it.
package authkey

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/corehsm/yubihsm-go/internal/zero"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Length is the total size of an authentication key in bytes.
	Length = 32
	// HalfLength is the size of each of the encryption and MAC halves.
	HalfLength = Length / 2

	iterations = 10000
	// pwhashSalt is fixed for compatibility with existing deployments
	// that derive authentication keys from a password; see spec.md §3.
	pwhashSalt = "Yubico"
)

// Key is a 32-byte authentication key: a 16-byte encryption half followed
// by a 16-byte MAC half. The zero value is not a valid key.
type Key [Length]byte

// FromPassword derives a Key from password using PBKDF2-HMAC-SHA256 with
// the fixed salt and iteration count required for compatibility with the
// device's password-based provisioning flow.
func FromPassword(password string) Key {
	var k Key
	copy(k[:], pbkdf2.Key([]byte(password), []byte(pwhashSalt), iterations, Length, sha256.New))
	return k
}

// Random generates a fresh random authentication key, e.g. for use with
// change-authentication-key.
func Random() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// FromHalves builds a Key from separately held encryption and MAC halves.
func FromHalves(encKey, macKey []byte) Key {
	var k Key
	copy(k[:HalfLength], encKey)
	copy(k[HalfLength:], macKey)
	return k
}

// EncKey returns the encryption half of the key.
func (k Key) EncKey() []byte {
	return k[:HalfLength]
}

// MacKey returns the MAC half of the key.
func (k Key) MacKey() []byte {
	return k[HalfLength:]
}

// Zero overwrites the key with zero bytes. Key is a value type, so Zero
// wipes only the copy it is called on. The Client and securechannel.Channel
// keep their own copies for their whole lifetime and do not call Zero on
// them; closing a Client or terminating a Channel leaves those copies in
// memory.
func (k *Key) Zero() {
	zero.Bytes(k[:])
}

// String never reveals key contents, including via %v/%s in logs or
// panics.
func (k Key) String() string {
	return "authkey.Key(REDACTED)"
}

// GoString never reveals key contents via %#v either.
func (k Key) GoString() string {
	return "authkey.Key(REDACTED)"
}
