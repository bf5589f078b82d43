package crypto

import "golang.org/x/crypto/chacha20"

// SetWipeObserver installs fn to be called with every buffer passed to Wipe
// and returns a function restoring the previous observer.
func SetWipeObserver(fn func(b []byte)) func() {
	return setWipeObserver(fn)
}

// ChaChaState exposes the keyed ChaCha20 cipher behind an inner stream.
func ChaChaState(s *InnerStream) *chacha20.Cipher {
	return s.chacha
}
