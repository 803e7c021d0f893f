package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

const (
	KeySize   = 32 // AES-256 key size
	NonceSize = 12 // GCM nonce size
	TagSize   = 16 // GCM authentication tag size
)

// Key is a 256-bit master key.
type Key struct {
	b [KeySize]byte
}

// NewKey copies raw key material into a Key.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	k := &Key{}
	copy(k.b[:], raw)
	return k, nil
}

// GenerateKey returns a random key.
func GenerateKey() (*Key, error) {
	k := &Key{}
	if _, err := rand.Read(k.b[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return k, nil
}

// Bytes returns the key material. The slice aliases the key and is zeroed by Destroy.
func (k *Key) Bytes() []byte {
	return k.b[:]
}

// Clone returns an independent copy of the key.
func (k *Key) Clone() *Key {
	c := &Key{}
	c.b = k.b
	return c
}

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return false
	}
	return ConstantTimeCompare(k.b[:], other.b[:])
}

// Destroy clears the key from memory
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	ClearBytes(k.b[:])
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
