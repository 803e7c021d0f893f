// Package core provides the moodlock journal operations used by the CLI.
//
// Core operations include:
//   - Init: Create a journal with a password-derived master key
//   - Login/Restore/Logout: Load the key from the password or the session
//   - Seal/Open/List: Encrypt and decrypt journal entries
//   - GenerateRecovery/Recover: Unlock with a recovery secret instead of the password
//   - Rotate: Re-encrypt every entry under a new password
//
// With MOODLOCK_API_URL set, encryption state and entries are also written to
// the remote API, which only ever receives ciphertext.
package core
