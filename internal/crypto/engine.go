package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

func newGCM(key *Key) (cipher.AEAD, error) {
	if key == nil {
		return nil, ErrKeyUnavailable
	}
	block, err := aes.NewCipher(key.b[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// aad is authenticated but not encrypted, and is not stored in the envelope.
func Encrypt(key *Key, plaintext, aad []byte) (*Envelope, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Generate random nonce
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and authenticate
	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize

	return &Envelope{
		Version:    EnvelopeVersion,
		Algorithm:  AlgorithmAES256GCM,
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		Tag:        sealed[split:],
	}, nil
}

// Decrypt decrypts an envelope using AES-256-GCM.
// If aad is nil the envelope's own AAD, if any, is used.
//
// A wrong key and tampered data produce the same ErrDecryptionFailed.
func Decrypt(key *Key, env *Envelope, aad []byte) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if aad == nil {
		aad = env.AAD
	}

	// Decrypt and verify
	plaintext, err := gcm.Open(nil, env.IV, env.sealed(), aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
