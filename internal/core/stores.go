package core

import (
	"context"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/lifecycle"
	"github.com/illarion/moodlock/internal/recovery"
)

// stateStores writes encryption state to every store in order, stopping at the
// first failure. The local database comes first so the API never holds state
// the journal does not.
type stateStores []lifecycle.MetadataStore

func (s *stateStores) SaveEncryptionState(ctx context.Context, meta crypto.KeyMetadata, canary *crypto.Envelope) error {
	for _, store := range *s {
		if err := store.SaveEncryptionState(ctx, meta, canary); err != nil {
			return err
		}
	}
	return nil
}

// recoverySinks saves the recovery envelope to every sink in order.
type recoverySinks []recovery.EnvelopeSink

func (s recoverySinks) SaveRecoveryEnvelope(ctx context.Context, env *recovery.Envelope) error {
	for _, sink := range s {
		if err := sink.SaveRecoveryEnvelope(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
