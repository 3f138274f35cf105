// Package zero provides a best-effort memory-zeroing primitive for secret
// byte slices (auth keys, session keys, MAC chaining state). Go offers no
// language-level guarantee against dead-store elimination, but writing
// through a volatile-like byte-at-a-time loop and pinning the slice alive
// with runtime.KeepAlive until after the writes defeats the compiler
// optimizations that would otherwise have a chance to elide a final
// unread store.
package zero

import "runtime"

// Bytes overwrites b with zeros in place.
func Bytes(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
