// Package transport encrypts payloads before they leave the client and decrypts
// them on the way back.
//
// Stored values are either Sealed (an encrypted envelope) or Plaintext (records
// written before encryption was enabled). Classify tells them apart by shape;
// Plaintext passes through unchanged.
//
// Batch decryption never fails as a whole: each record that cannot be decrypted
// is reported in BatchResult.Failures and the rest are returned.
package transport
