// Package security confines file reads and writes of the CLI to one directory.
//
// Entries read with "seal --file" and plaintext written with "open --out" go
// through a Sandbox, which resolves paths with os.Root so neither ".." nor
// symlinks can reach outside the working directory.
package security
