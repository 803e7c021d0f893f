package crypto_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/moodlock/internal/crypto"
)

func TestTaskDeliversKeyAndProgress(t *testing.T) {
	meta := testMetadata(t)
	password := []byte("Sw0rdfish!")

	task := crypto.Start(context.Background(), password, meta)
	crypto.ClearBytes(password)

	var last crypto.Progress
	for p := range task.Progress() {
		last = p
	}
	key, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, crypto.StatusComplete, last.Status)

	want, err := crypto.Derive(context.Background(), []byte("Sw0rdfish!"), meta, nil)
	require.NoError(t, err)
	assert.True(t, want.Equal(key))
}

func TestTaskCancel(t *testing.T) {
	meta := testMetadata(t)
	meta.Iterations = 50 * crypto.MinIters

	task := crypto.Start(context.Background(), []byte("pw"), meta)
	task.Cancel()

	key, err := task.Wait()
	assert.Nil(t, key)
	assert.ErrorIs(t, err, crypto.ErrTaskCancelled)

	for range task.Progress() {
	}
}

func TestTaskWaitWithoutReadingProgress(t *testing.T) {
	task := crypto.Start(context.Background(), []byte("pw"), testMetadata(t))

	key, err := task.Wait()
	require.NoError(t, err)
	assert.NotNil(t, key)
}
