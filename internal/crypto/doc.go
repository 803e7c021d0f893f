// Package crypto provides the cryptographic primitives of moodlock.
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - per-account random salt (16 bytes minimum, 32 by default)
//   - iteration count stored in KeyMetadata (600,000 by default, never below 100,000)
//   - chunked computation so callers get progress events and can cancel
//
// Encryption uses AES-256-GCM with:
//   - 32-byte master key
//   - 12-byte nonce read from crypto/rand on every call
//   - 16-byte tag carried separately in the Envelope
//   - optional additional authenticated data binding a record's context
//
// Memory safety:
//   - Key.Destroy() zeroes key material
//   - Use ClearBytes() to zero passwords and intermediate buffers
//   - Encrypt and Decrypt never keep a reference to the key
package crypto
