// Package securemem holds wallet secrets in locked, zeroable memory and
// seals them at rest with age passphrase encryption.
package securemem

import (
	"runtime"
	"sync"
)

// Secret is a byte buffer for key material. The memory is locked when the
// platform allows it and zeroed on Destroy.
type Secret struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// New allocates a zeroed secret of size bytes. When lock is true the
// buffer is mlocked if possible; failure to lock is not an error.
func New(size int, lock bool) *Secret {
	s := &Secret{data: make([]byte, size)}
	if lock {
		s.locked = mlock(s.data)
	}
	runtime.SetFinalizer(s, (*Secret).Destroy)
	return s
}

// FromBytes copies b into a new secret and zeroes b.
func FromBytes(b []byte, lock bool) *Secret {
	s := New(len(b), lock)
	copy(s.data, b)
	Zero(b)
	return s
}

// Bytes returns the underlying buffer, or nil after Destroy. Callers must
// not retain it.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Len returns the buffer length.
func (s *Secret) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Locked reports whether the buffer is mlocked.
func (s *Secret) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Destroy zeroes and unlocks the buffer. It is safe to call more than once.
func (s *Secret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return
	}
	Zero(s.data)
	if s.locked {
		munlock(s.data)
		s.locked = false
	}
	s.data = nil
	runtime.SetFinalizer(s, nil)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
