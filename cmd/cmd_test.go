package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/moodlock/internal/core"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("MOODLOCK_DIR", filepath.Join(dir, ".moodlock"))
	t.Setenv("MOODLOCK_PASSWORD", "Sw0rdfish!")
	t.Setenv("MOODLOCK_SESSION_STORE", "memory")
	t.Setenv("MOODLOCK_KDF_ITERATIONS", "100000")
	t.Setenv("MOODLOCK_SALT_SIZE", "16")
	t.Setenv("MOODLOCK_MIN_PASSWORD_SCORE", "0")
	t.Setenv("MOODLOCK_API_URL", "")
	t.Setenv("MOODLOCK_SESSION", "")
	return dir
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	// Flag values and their changed state outlive a run.
	for _, c := range []*cobra.Command{sealCmd, openCmd, listCmd, recoveryGenerateCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	rootCmd.SetArgs(args)
	return Execute(context.Background())
}

func TestInitSealOpen(t *testing.T) {
	dir := setupEnv(t)

	require.NoError(t, run(t, "init"))
	assert.FileExists(t, filepath.Join(dir, ".moodlock", "journal.db"))

	err := run(t, "init")
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	require.NoError(t, run(t, "seal", "moods", "day-1", "--data", `{"mood_score":7}`))
	require.NoError(t, run(t, "open", "moods", "day-1", "--out", "out/day-1.json"))

	data, err := os.ReadFile(filepath.Join(dir, "out", "day-1.json"))
	require.NoError(t, err)
	var entry struct {
		MoodScore int `json:"mood_score"`
	}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, 7, entry.MoodScore)

	// Refuses to overwrite without --force.
	err = run(t, "open", "moods", "day-1", "--out", "out/day-1.json")
	require.Error(t, err)
	require.NoError(t, run(t, "open", "moods", "day-1", "--out", "out/day-1.json", "--force"))
}

func TestSealFromFile(t *testing.T) {
	dir := setupEnv(t)
	require.NoError(t, run(t, "init"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "entry.json"), []byte(`{"mood_score":3}`), 0600))
	require.NoError(t, run(t, "seal", "moods", "day-2", "--file", "entry.json"))
	require.NoError(t, run(t, "list", "moods"))

	err := run(t, "seal", "moods", "--file", "../outside.json")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{nope`), 0600))
	err = run(t, "seal", "moods", "--file", "bad.json")
	assert.EqualError(t, err, "entry is not valid JSON")
}

func TestRemove(t *testing.T) {
	setupEnv(t)
	require.NoError(t, run(t, "init"))
	require.NoError(t, run(t, "seal", "moods", "x", "--data", `{"mood_score":1}`))
	require.NoError(t, run(t, "rm", "moods", "x"))

	err := run(t, "open", "moods", "x")
	assert.True(t, errors.Is(err, core.ErrRecordNotFound), "got %v", err)
}

func TestWrongPassword(t *testing.T) {
	setupEnv(t)
	require.NoError(t, run(t, "init"))

	t.Setenv("MOODLOCK_PASSWORD", "not-it")
	err := run(t, "list", "moods")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrNotLoggedIn)
}

func TestNotInitialized(t *testing.T) {
	setupEnv(t)
	err := run(t, "list")
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	// status reports a missing journal without failing
	require.NoError(t, run(t, "status"))
}
