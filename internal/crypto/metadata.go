package crypto

import (
	"fmt"
	"time"
)

const (
	AlgorithmPBKDF2SHA256 = "PBKDF2-SHA256"
	MetadataVersion       = 1

	SaltSize     = 32     // Default salt size in bytes
	MinSaltSize  = 16     // Smallest salt accepted from storage or the server
	DefaultIters = 600000 // Default PBKDF2 iterations
	MinIters     = 100000 // Oldest accounts were created with this many iterations
)

// KeyMetadata describes how an account's master key is derived.
// It holds no secret material and is safe to store anywhere.
type KeyMetadata struct {
	Salt           []byte    `json:"salt"`
	Iterations     uint32    `json:"iterations"`
	Algorithm      string    `json:"algorithm"`
	Version        int       `json:"version"`
	HasRecoveryKey bool      `json:"hasRecoveryKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
}

// NewKeyMetadata creates metadata with a fresh random salt.
func NewKeyMetadata(iterations uint32, saltSize int) (KeyMetadata, error) {
	if saltSize == 0 {
		saltSize = SaltSize
	}
	if saltSize < MinSaltSize {
		return KeyMetadata{}, fmt.Errorf("%w: salt size %d is below %d bytes", ErrInvalidMetadata, saltSize, MinSaltSize)
	}
	if iterations == 0 {
		iterations = DefaultIters
	}
	salt, err := GenerateRandom(saltSize)
	if err != nil {
		return KeyMetadata{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	meta := KeyMetadata{
		Salt:       salt,
		Iterations: iterations,
		Algorithm:  AlgorithmPBKDF2SHA256,
		Version:    MetadataVersion,
		CreatedAt:  time.Now().UTC(),
	}
	return meta, meta.Validate()
}

// Validate checks that the metadata can be used for derivation.
func (m KeyMetadata) Validate() error {
	switch {
	case m.Algorithm != AlgorithmPBKDF2SHA256:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidMetadata, m.Algorithm)
	case m.Version != MetadataVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidMetadata, m.Version)
	case len(m.Salt) < MinSaltSize:
		return fmt.Errorf("%w: salt is %d bytes, need at least %d", ErrInvalidMetadata, len(m.Salt), MinSaltSize)
	case m.Iterations < MinIters:
		return fmt.Errorf("%w: %d iterations is below the minimum of %d", ErrInvalidMetadata, m.Iterations, MinIters)
	}
	return nil
}

// Clone returns a deep copy of the metadata.
func (m KeyMetadata) Clone() KeyMetadata {
	m.Salt = append([]byte(nil), m.Salt...)
	return m
}
