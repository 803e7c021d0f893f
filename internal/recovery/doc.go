// Package recovery implements the recovery credential.
//
// A recovery secret is random bytes shown to the user once, encoded for hand
// transcription (Crockford base32 or hex, in dash-separated groups). A wrapping
// key is derived from it with HKDF-SHA256 and a random salt, and the master key
// is stored encrypted under that wrapping key as an Envelope. Losing both the
// password and the secret makes the data unrecoverable.
package recovery
