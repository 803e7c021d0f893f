package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/illarion/moodlock/internal/crypto"
)

func init() {
	// Use mock keyring backend for tests (no real OS keychain access).
	keyring.MockInit()
}

func newMaster(t *testing.T) *crypto.Key {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func TestScopeSealOpen(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]Store{
		"memory":  NewMemoryStore(),
		"keyring": NewKeyringStore(),
	} {
		t.Run(name, func(t *testing.T) {
			master := newMaster(t)
			scope := NewScope(store, time.Hour)

			require.NoError(t, scope.Seal(ctx, "acct-1", master))

			got, err := scope.Open(ctx, "acct-1")
			require.NoError(t, err)
			assert.True(t, master.Equal(got))
		})
	}
}

func TestCapsuleDoesNotContainRawKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	master := newMaster(t)
	scope := NewScope(store, time.Hour)

	require.NoError(t, scope.Seal(ctx, "acct", master))

	data, err := store.Get(ctx, scope.ID())
	require.NoError(t, err)
	assert.NotContains(t, string(data), string(master.Bytes()))
}

func TestResumeScopeFromToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	master := newMaster(t)

	first := NewScope(store, time.Hour)
	require.NoError(t, first.Seal(ctx, "acct", master))
	token, err := first.Token()
	require.NoError(t, err)

	resumed, err := ResumeScope(store, token, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), resumed.ID())

	got, err := resumed.Open(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, master.Equal(got))
}

func TestResumeScopeInvalidToken(t *testing.T) {
	store := NewMemoryStore()
	for _, token := range []string{"", "no-dot", "not-a-uuid.AAAA", NewScope(store, 0).ID() + ".short"} {
		_, err := ResumeScope(store, token, 0)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestOtherScopeCannotOpenCapsule(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scope := NewScope(store, time.Hour)
	require.NoError(t, scope.Seal(ctx, "acct", newMaster(t)))

	// Same id, different capsule key.
	other := NewScope(store, time.Hour)
	other.id = scope.id

	_, err := other.Open(ctx, "acct")
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestScopeWrongAccount(t *testing.T) {
	ctx := context.Background()
	scope := NewScope(NewMemoryStore(), time.Hour)
	require.NoError(t, scope.Seal(ctx, "acct-1", newMaster(t)))

	_, err := scope.Open(ctx, "acct-2")
	assert.ErrorIs(t, err, ErrWrongAccount)
}

func TestScopeExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewKeyringStore()
	scope := NewScope(store, time.Minute)
	require.NoError(t, scope.Seal(ctx, "acct", newMaster(t)))

	scope.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := scope.Open(ctx, "acct")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = store.Get(ctx, scope.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScopeClearInvalidatesCapsuleAndToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scope := NewScope(store, time.Hour)
	master := newMaster(t)

	require.NoError(t, scope.Seal(ctx, "acct", master))
	oldToken, err := scope.Token()
	require.NoError(t, err)
	stale, err := store.Get(ctx, scope.ID())
	require.NoError(t, err)

	require.NoError(t, scope.Clear(ctx))
	require.NoError(t, scope.Clear(ctx))

	_, err = scope.Open(ctx, "acct")
	assert.ErrorIs(t, err, ErrNotFound)

	// A copy of the capsule taken before the clear is useless to the scope.
	require.NoError(t, store.Put(ctx, scope.ID(), stale, time.Hour))
	_, err = scope.Open(ctx, "acct")
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	newToken, err := scope.Token()
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, newToken)
}

func TestScopeClose(t *testing.T) {
	ctx := context.Background()
	scope := NewScope(NewMemoryStore(), time.Hour)
	require.NoError(t, scope.Seal(ctx, "acct", newMaster(t)))

	scope.Close()

	_, err := scope.Open(ctx, "acct")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = scope.Token()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "a", []byte("data"), time.Second))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	now = now.Add(2 * time.Second)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestKeyringStoreDeleteMissing(t *testing.T) {
	assert.NoError(t, NewKeyringStore().Delete(context.Background(), "never-stored"))
}
