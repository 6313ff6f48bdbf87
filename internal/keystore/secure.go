package keystore

import (
	"errors"
	"runtime"
	"sync"
)

// ErrDestroyed is returned when key material is used after it was wiped.
var ErrDestroyed = errors.New("key material destroyed")

// SecureBytes holds secret key material in pinned memory.
// The buffer is zeroed by Wipe, or by the finalizer if Wipe is never called.
type SecureBytes struct {
	mu     sync.Mutex
	buf    []byte
	pinned bool
}

// newSecureBytes copies src into a pinned buffer and zeroes src.
func newSecureBytes(src []byte) *SecureBytes {
	sb := &SecureBytes{buf: make([]byte, len(src))}
	copy(sb.buf, src)
	zero(src)
	sb.pinned = pin(sb.buf)
	runtime.SetFinalizer(sb, (*SecureBytes).Wipe)
	return sb
}

// Use calls fn with the secret while holding the lock.
// fn must not retain the slice.
func (s *SecureBytes) Use(fn func(secret []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return ErrDestroyed
	}
	return fn(s.buf)
}

// Pinned reports whether the buffer is locked in memory.
func (s *SecureBytes) Pinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// Wiped reports whether the secret has been destroyed.
func (s *SecureBytes) Wiped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf == nil
}

// Wipe zeroes and releases the secret. Safe to call more than once.
func (s *SecureBytes) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return
	}
	zero(s.buf)
	if s.pinned {
		unpin(s.buf)
		s.pinned = false
	}
	s.buf = nil
	runtime.SetFinalizer(s, nil)
}

func zero(b []byte) {
	clear(b)
}
