package crypto

import "sync"

var (
	observerMu   sync.RWMutex
	wipeObserver func(b []byte)
)

// Wipe zeroes every buffer in place. Nil and empty buffers are ignored.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		clear(b)
		notifyWiped(b)
	}
}

func notifyWiped(b []byte) {
	observerMu.RLock()
	fn := wipeObserver
	observerMu.RUnlock()
	if fn != nil {
		fn(b)
	}
}

func setWipeObserver(fn func(b []byte)) func() {
	observerMu.Lock()
	prev := wipeObserver
	wipeObserver = fn
	observerMu.Unlock()
	return func() {
		observerMu.Lock()
		wipeObserver = prev
		observerMu.Unlock()
	}
}

// SecureBuffer holds key material. The backing memory is locked against
// swapping where the platform allows it and zeroed by Destroy.
type SecureBuffer struct {
	buf    []byte
	locked bool
}

// NewSecureBuffer allocates a zeroed buffer of n bytes.
func NewSecureBuffer(n int) *SecureBuffer {
	s := &SecureBuffer{buf: make([]byte, n)}
	s.locked = lockMemory(s.buf) == nil
	return s
}

// SecureCopy moves b into a new SecureBuffer and wipes b.
func SecureCopy(b []byte) *SecureBuffer {
	s := NewSecureBuffer(len(b))
	copy(s.buf, b)
	Wipe(b)
	return s
}

// Bytes returns the underlying memory. It must not be retained after Destroy.
func (s *SecureBuffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.buf
}

// Len returns the buffer size.
func (s *SecureBuffer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.buf)
}

// Locked reports whether the memory is locked.
func (s *SecureBuffer) Locked() bool {
	return s != nil && s.locked
}

// Destroy wipes and unlocks the buffer. It is safe to call more than once.
func (s *SecureBuffer) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	Wipe(s.buf)
	if s.locked {
		_ = unlockMemory(s.buf)
		s.locked = false
	}
	s.buf = nil
}
