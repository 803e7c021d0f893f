package core

import (
	"context"
	"errors"

	"github.com/illarion/moodlock/internal/recovery"
	"github.com/illarion/moodlock/internal/storage"
)

// GenerateRecovery creates a recovery secret for the current key. The secret
// must be shown to the user, then ConfirmRecovery or DiscardRecovery called.
func (m *Moodlock) GenerateRecovery(ctx context.Context) (*recovery.Record, error) {
	return m.recovery.Generate(ctx)
}

// ConfirmRecovery saves the pending recovery envelope once the user has
// written the secret down.
func (m *Moodlock) ConfirmRecovery(ctx context.Context) error {
	if err := m.recovery.ConfirmSaved(ctx); err != nil {
		return err
	}
	m.status.Refresh()
	return nil
}

// DiscardRecovery drops the pending recovery envelope.
func (m *Moodlock) DiscardRecovery() {
	m.recovery.Discard()
}

// HasRecoveryKey reports whether a recovery envelope is stored in the journal.
func (m *Moodlock) HasRecoveryKey() (bool, error) {
	_, err := m.db.RecoveryEnvelope()
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Recover unlocks the journal with a recovery secret instead of the password.
func (m *Moodlock) Recover(ctx context.Context, secret string) error {
	env, err := m.db.RecoveryEnvelope()
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNoRecoveryKey
	}
	if err != nil {
		return err
	}

	meta, canary, err := m.encryptionState(ctx)
	if err != nil {
		return err
	}
	m.keys.SetMetadata(meta)
	m.keys.SetCanary(canary)

	return m.status.Recover(ctx, secret, env)
}
