// Package storage provides the BBolt database interface for moodlock.
//
// Database structure uses four buckets:
//   - config: schema version, timestamps, account id (unencrypted)
//   - key: key metadata and canary envelope (public, no secrets)
//   - recovery: the master key wrapped under the recovery secret
//   - records: one nested bucket per resource; values hold envelopes
//
// Key metadata is readable without a password so login knows the salt and
// iteration count. Iterations only ever go up: SaveEncryptionState refuses
// metadata that would weaken the stored key.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
// Rotate relies on that to re-encrypt every record and switch the key metadata
// atomically.
package storage
