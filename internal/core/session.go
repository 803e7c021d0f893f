package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/storage"
	"github.com/illarion/moodlock/internal/transport"
)

// LoginResult describes a successful login.
type LoginResult struct {
	// Stale is set when the key was derived with fewer iterations than configured.
	Stale      bool
	Iterations uint32
}

// Login derives the key from password and saves it to the session.
func (m *Moodlock) Login(ctx context.Context, password []byte) (*LoginResult, error) {
	if len(password) == 0 {
		return nil, ErrPasswordRequired
	}

	meta, canary, err := m.encryptionState(ctx)
	if err != nil {
		return nil, err
	}
	m.keys.SetMetadata(meta)
	m.keys.SetCanary(canary)

	if err := m.status.Login(ctx, password, meta); err != nil {
		return nil, err
	}
	if err := m.keys.SaveToSession(ctx); err != nil {
		m.logger.Warn("session not saved", slog.Any("error", err))
	}

	res := &LoginResult{Iterations: meta.Iterations}
	if meta.Iterations < m.cfg.KDFIterations {
		res.Stale = true
		m.logger.Warn("key uses fewer iterations than configured",
			slog.Uint64("iterations", uint64(meta.Iterations)),
			slog.Uint64("configured", uint64(m.cfg.KDFIterations)))
	}
	return res, nil
}

// encryptionState loads the key metadata and canary from the journal, falling
// back to the API on a fresh device and caching what it returns.
func (m *Moodlock) encryptionState(ctx context.Context) (crypto.KeyMetadata, *crypto.Envelope, error) {
	meta, canary, err := m.db.EncryptionState()
	if err == nil {
		return meta, canary, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return crypto.KeyMetadata{}, nil, err
	}
	if m.api == nil {
		return crypto.KeyMetadata{}, nil, ErrNoEncryptionState
	}

	state, err := m.api.GetMetadata(ctx)
	if errors.Is(err, transport.ErrNotFound) {
		return crypto.KeyMetadata{}, nil, ErrNoEncryptionState
	}
	if err != nil {
		return crypto.KeyMetadata{}, nil, fmt.Errorf("failed to fetch key metadata: %w", err)
	}
	if err := m.db.SaveEncryptionState(ctx, state.Metadata, state.Canary); err != nil {
		return crypto.KeyMetadata{}, nil, fmt.Errorf("failed to cache key metadata: %w", err)
	}
	return state.Metadata, state.Canary, nil
}

// Restore loads the key from the session. It returns ErrNotLoggedIn when the
// user has to log in.
func (m *Moodlock) Restore(ctx context.Context) error {
	if m.keys.Canary() == nil {
		return ErrNotLoggedIn
	}
	ok, err := m.status.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLoggedIn
	}
	return nil
}

// Logout drops the key and the session.
func (m *Moodlock) Logout(ctx context.Context) error {
	return m.status.Logout(ctx)
}
