// Package lifecycle owns the master key while it is in memory.
//
// A Manager moves through these states:
//
//	Absent ──derive──▶ Deriving ──ok──▶ Available ──clear──▶ Absent
//	                      │  └─cancel/clear──▶ Absent
//	                      └─fail──▶ Error ──derive──▶ Deriving
//
// Restoring a session capsule or adopting a recovered key moves Absent
// straight to Available, after the key has decrypted the account's canary.
//
// Only the Manager writes the key. It is kept sealed in a memguard enclave;
// WithKey lends a copy for the duration of one call and destroys it afterwards.
// Only one derivation may be in flight; a second one fails with ErrBusy.
package lifecycle
