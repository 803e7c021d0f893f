// Package git checks whether moodlock files are exposed to git.
//
// Checks performed:
//   - Whether the data directory or .env is tracked by git (should not be)
//   - Whether they are covered by .gitignore (should be)
//
// The journal is encrypted, but .env may hold MOODLOCK_PASSWORD and the
// journal reveals entry counts and timestamps.
package git
