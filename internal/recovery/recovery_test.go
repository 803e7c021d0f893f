package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/moodlock/internal/crypto"
)

type fakeHolder struct {
	key      *crypto.Key
	recovery bool
}

func (h *fakeHolder) WithKey(fn func(*crypto.Key) error) error {
	if h.key == nil {
		return crypto.ErrKeyUnavailable
	}
	k := h.key.Clone()
	defer k.Destroy()
	return fn(k)
}

func (h *fakeHolder) SetRecoveryFlag(_ context.Context, has bool) error {
	h.recovery = has
	return nil
}

type fakeSink struct {
	saved []*Envelope
	err   error
}

func (s *fakeSink) SaveRecoveryEnvelope(_ context.Context, env *Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, env)
	return nil
}

func newHolder(t *testing.T) *fakeHolder {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeHolder{key: key}
}

func TestGenerateAndRecover(t *testing.T) {
	for _, enc := range []Encoding{EncodingCrockford, EncodingHex} {
		t.Run(string(enc), func(t *testing.T) {
			holder := newHolder(t)
			sys := New(holder, &fakeSink{}, Options{Encoding: enc})

			rec, err := sys.Generate(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, rec.Secret)
			assert.Equal(t, enc, rec.Envelope.Encoding)
			require.NoError(t, rec.Envelope.Validate())

			key, err := RecoverWith(rec.Secret, rec.Envelope)
			require.NoError(t, err)
			defer key.Destroy()
			assert.True(t, key.Equal(holder.key))
		})
	}
}

func TestRecoverWith_WrongSecret(t *testing.T) {
	sys := New(newHolder(t), &fakeSink{}, Options{})
	rec, err := sys.Generate(context.Background())
	require.NoError(t, err)

	other, err := sys.Generate(context.Background())
	require.NoError(t, err)

	_, err = RecoverWith(other.Secret, rec.Envelope)
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrRecoveryFailed)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestRecoverWith_Garbage(t *testing.T) {
	sys := New(newHolder(t), &fakeSink{}, Options{})
	rec, err := sys.Generate(context.Background())
	require.NoError(t, err)

	_, err = RecoverWith("not a secret!", rec.Envelope)
	assert.ErrorIs(t, err, crypto.ErrRecoveryFailed)

	_, err = RecoverWith(rec.Secret, nil)
	assert.ErrorIs(t, err, crypto.ErrRecoveryFailed)

	broken := *rec.Envelope
	broken.Salt = broken.Salt[:4]
	_, err = RecoverWith(rec.Secret, &broken)
	assert.ErrorIs(t, err, crypto.ErrRecoveryFailed)
}

func TestRecoverWith_TamperedEnvelope(t *testing.T) {
	sys := New(newHolder(t), &fakeSink{}, Options{})
	rec, err := sys.Generate(context.Background())
	require.NoError(t, err)

	tampered := *rec.Envelope
	tampered.Wrapped = rec.Envelope.Wrapped.Clone()
	tampered.Wrapped.Ciphertext[0] ^= 0x01

	_, err = RecoverWith(rec.Secret, &tampered)
	assert.ErrorIs(t, err, crypto.ErrRecoveryFailed)
}

func TestConfirmSaved(t *testing.T) {
	ctx := context.Background()
	holder := newHolder(t)
	sink := &fakeSink{}
	sys := New(holder, sink, Options{})

	require.ErrorIs(t, sys.ConfirmSaved(ctx), ErrNothingPending)

	rec, err := sys.Generate(ctx)
	require.NoError(t, err)
	assert.True(t, sys.Pending())
	assert.False(t, holder.recovery)

	require.NoError(t, sys.ConfirmSaved(ctx))
	assert.False(t, sys.Pending())
	assert.True(t, holder.recovery)
	require.Len(t, sink.saved, 1)
	assert.Same(t, rec.Envelope, sink.saved[0])
}

func TestConfirmSaved_SinkFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	holder := newHolder(t)
	sys := New(holder, &fakeSink{err: errors.New("offline")}, Options{})

	_, err := sys.Generate(ctx)
	require.NoError(t, err)

	require.Error(t, sys.ConfirmSaved(ctx))
	assert.True(t, sys.Pending())
	assert.False(t, holder.recovery)
}

func TestDiscard(t *testing.T) {
	sys := New(newHolder(t), &fakeSink{}, Options{})
	_, err := sys.Generate(context.Background())
	require.NoError(t, err)

	sys.Discard()
	assert.False(t, sys.Pending())
	assert.ErrorIs(t, sys.ConfirmSaved(context.Background()), ErrNothingPending)
}

func TestGenerate_NeedsKey(t *testing.T) {
	sys := New(&fakeHolder{}, &fakeSink{}, Options{})
	_, err := sys.Generate(context.Background())
	assert.ErrorIs(t, err, crypto.ErrKeyUnavailable)
	assert.False(t, sys.Pending())
}

func TestGenerate_SecretTooShort(t *testing.T) {
	sys := New(newHolder(t), &fakeSink{}, Options{SecretBytes: 8})
	_, err := sys.Generate(context.Background())
	assert.Error(t, err)
}
