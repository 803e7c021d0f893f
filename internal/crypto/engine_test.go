package crypto_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/moodlock/internal/crypto"
)

func newTestKey(t *testing.T) *crypto.Key {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := newTestKey(t)

	plaintexts := [][]byte{
		{},
		[]byte(`{"mood_score":7}`),
		make([]byte, 64*1024),
	}
	for _, p := range plaintexts {
		env, err := crypto.Encrypt(key, p, nil)
		require.NoError(t, err)

		got, err := crypto.Decrypt(key, env, nil)
		require.NoError(t, err)
		assert.Equal(t, len(p), len(got))
		assert.Equal(t, string(p), string(got))
	}
}

func TestEnvelopeShape(t *testing.T) {
	env, err := crypto.Encrypt(newTestKey(t), []byte("hello"), nil)
	require.NoError(t, err)

	assert.Equal(t, crypto.EnvelopeVersion, env.Version)
	assert.Equal(t, crypto.AlgorithmAES256GCM, env.Algorithm)
	assert.Len(t, env.IV, crypto.NonceSize)
	assert.Len(t, env.Tag, crypto.TagSize)
	assert.Len(t, env.Ciphertext, len("hello"))

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t, []string{"v", "alg", "iv", "ct", "tag"}, keys(fields))
	assert.True(t, crypto.IsEnvelope(raw))

	parsed, err := crypto.ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env, parsed)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNonceUniqueness(t *testing.T) {
	key := newTestKey(t)
	seen := make(map[string]bool)

	for range 200 {
		env, err := crypto.Encrypt(key, []byte("same plaintext"), nil)
		require.NoError(t, err)
		id := string(env.IV) + string(env.Ciphertext)
		assert.False(t, seen[id], "nonce reused")
		seen[id] = true
	}
}

func TestDecryptWrongKey(t *testing.T) {
	env, err := crypto.Encrypt(newTestKey(t), []byte("secret"), nil)
	require.NoError(t, err)

	_, err = crypto.Decrypt(newTestKey(t), env, nil)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestWrongPasswordRejected(t *testing.T) {
	meta := testMetadata(t)
	right, err := crypto.Derive(context.Background(), []byte("Sw0rdfish!"), meta, nil)
	require.NoError(t, err)
	wrong, err := crypto.Derive(context.Background(), []byte("Sw0rdfish?"), meta, nil)
	require.NoError(t, err)

	env, err := crypto.Encrypt(right, []byte(`{"mood_score":7}`), nil)
	require.NoError(t, err)

	got, err := crypto.Decrypt(wrong, env, nil)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestDecryptTampered(t *testing.T) {
	key := newTestKey(t)

	tests := []struct {
		name   string
		mutate func(e *crypto.Envelope)
	}{
		{"ciphertext bit", func(e *crypto.Envelope) { e.Ciphertext[0] ^= 0x01 }},
		{"tag bit", func(e *crypto.Envelope) { e.Tag[15] ^= 0x80 }},
		{"iv bit", func(e *crypto.Envelope) { e.IV[3] ^= 0x10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := crypto.Encrypt(key, []byte("untouched"), nil)
			require.NoError(t, err)
			tt.mutate(env)

			_, err = crypto.Decrypt(key, env, nil)
			assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
			assert.Equal(t, crypto.ErrDecryptionFailed.Error(), err.Error())
		})
	}
}

func TestDecryptMalformed(t *testing.T) {
	key := newTestKey(t)
	env, err := crypto.Encrypt(key, []byte("x"), nil)
	require.NoError(t, err)

	short := env.Clone()
	short.Tag = short.Tag[:4]
	_, err = crypto.Decrypt(key, short, nil)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)

	future := env.Clone()
	future.Version = 2
	_, err = crypto.Decrypt(key, future, nil)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.ErrorIs(t, err, crypto.ErrUnsupportedEnvelope)

	_, err = crypto.Decrypt(key, nil, nil)
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)
}

func TestAADBindsContext(t *testing.T) {
	key := newTestKey(t)
	aad := crypto.AAD("mood", "entry-1")

	env, err := crypto.Encrypt(key, []byte(`{"mood_score":3}`), aad)
	require.NoError(t, err)

	_, err = crypto.Decrypt(key, env, aad)
	require.NoError(t, err)

	_, err = crypto.Decrypt(key, env, crypto.AAD("mood", "entry-2"))
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	_, err = crypto.Decrypt(key, env, nil)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	embedded := env.Clone()
	embedded.AAD = aad
	_, err = crypto.Decrypt(key, embedded, nil)
	assert.NoError(t, err)
}

func TestAADIsLengthPrefixed(t *testing.T) {
	assert.NotEqual(t, crypto.AAD("ab", "c"), crypto.AAD("a", "bc"))
	assert.Equal(t, crypto.AAD("a", "b"), crypto.AAD("a", "b"))
}

func TestIsEnvelope(t *testing.T) {
	assert.False(t, crypto.IsEnvelope([]byte(`{"mood_score":7}`)))
	assert.False(t, crypto.IsEnvelope([]byte(`[1,2]`)))
	assert.False(t, crypto.IsEnvelope([]byte(`not json`)))
	assert.True(t, crypto.IsEnvelope([]byte(`{"v":1,"alg":"AES-256-GCM","iv":"","ct":"","tag":""}`)))

	// Damaged envelopes are still envelopes.
	assert.True(t, crypto.IsEnvelope([]byte(`{"v":1,"alg":"AES-256-GCM","iv":"AAAAAAAAAAAAAAAA"}`)))
	assert.True(t, crypto.IsEnvelope([]byte(`{"alg":"AES-256-GCM"}`)))
	assert.True(t, crypto.IsEnvelope([]byte(`{"v":1}`)))

	_, err := crypto.ParseEnvelope([]byte(`{"v":1,"alg":"AES-256-GCM","iv":"AAAAAAAAAAAAAAAA"}`))
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)
}

func TestDecryptAppendedTag(t *testing.T) {
	key := newTestKey(t)
	aad := crypto.AAD("record", "moods", "m1")
	env, err := crypto.Encrypt(key, []byte(`{"mood_score":7}`), aad)
	require.NoError(t, err)

	// WebCrypto output: ct||tag with no separate tag field.
	joined := map[string]any{
		"v":   env.Version,
		"alg": env.Algorithm,
		"iv":  env.IV,
		"ct":  append(append([]byte(nil), env.Ciphertext...), env.Tag...),
	}
	raw, err := json.Marshal(joined)
	require.NoError(t, err)

	parsed, err := crypto.ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.Tag)

	got, err := crypto.Decrypt(key, parsed, aad)
	require.NoError(t, err)
	assert.Equal(t, `{"mood_score":7}`, string(got))

	parsed.Ciphertext[len(parsed.Ciphertext)-1] ^= 0x01
	_, err = crypto.Decrypt(key, parsed, aad)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	tooShort := &crypto.Envelope{
		Version:    crypto.EnvelopeVersion,
		Algorithm:  crypto.AlgorithmAES256GCM,
		IV:         env.IV,
		Ciphertext: make([]byte, crypto.TagSize-1),
	}
	_, err = crypto.Decrypt(key, tooShort, aad)
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)
}

func TestKeyDestroy(t *testing.T) {
	key := newTestKey(t)
	clone := key.Clone()
	require.True(t, key.Equal(clone))

	key.Destroy()
	assert.Equal(t, make([]byte, crypto.KeySize), key.Bytes())
	assert.False(t, key.Equal(clone))
}

func TestNewKeyLength(t *testing.T) {
	_, err := crypto.NewKey(make([]byte, 16))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}
