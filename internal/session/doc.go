// Package session keeps the master key across restarts of a client session
// without writing it to durable storage.
//
// A Scope stands for one client session (a browser tab, a shell). It owns a
// random capsule key that lives only in process memory, sealed in a memguard
// enclave, and in the session token handed to the user. The master key is
// encrypted under the capsule key and the resulting Capsule is written to a Store:
//   - MemoryStore: process memory, gone when the process exits
//   - KeyringStore: OS keyring (Keychain, Secret Service, Credential Manager)
//   - RedisStore: shared ephemeral store with server-side expiry
//
// Validity boundary: a capsule can only be opened with the token of the scope
// that wrote it and before its expiry. Clear deletes the capsule and rotates the
// capsule key, so tokens and capsule copies from before the clear are useless.
package session
