package crypto

import "errors"

var (
	// ErrInvalidMetadata is returned for unsupported algorithms or versions and malformed salts.
	ErrInvalidMetadata = errors.New("invalid key metadata")
	// ErrKeyDerivationFailed marks an unexpected failure while deriving; retrying with the same inputs is safe.
	ErrKeyDerivationFailed = errors.New("key derivation failed")
	// ErrKeyUnavailable is returned when an operation needs the master key but none is loaded.
	ErrKeyUnavailable = errors.New("encryption key unavailable")
	// ErrDecryptionFailed covers both a wrong key and corrupted or tampered ciphertext.
	ErrDecryptionFailed = errors.New("cannot decrypt data")
	// ErrRecoveryFailed is returned for a wrong recovery secret or a malformed recovery envelope.
	ErrRecoveryFailed = errors.New("recovery failed")

	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrUnsupportedEnvelope = errors.New("unsupported envelope version or algorithm")
	ErrInvalidKey          = errors.New("invalid key length")
)
