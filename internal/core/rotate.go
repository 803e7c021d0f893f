package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/storage"
	"github.com/illarion/moodlock/internal/transport"
)

// RotateResult describes a completed key rotation.
type RotateResult struct {
	Metadata crypto.KeyMetadata
	// Records is the number of entries re-encrypted.
	Records int
	// Legacy is the number of plain entries encrypted for the first time.
	Legacy int
}

// Rotate replaces the key with one derived from newPassword and re-encrypts
// every entry in one transaction. The recovery key is dropped and has to be
// generated again. The database is compacted afterwards.
func (m *Moodlock) Rotate(ctx context.Context, newPassword []byte) (*RotateResult, error) {
	if m.api != nil {
		return nil, ErrRemoteRotation
	}
	if err := CheckPasswordStrength(newPassword, m.cfg.MinPasswordScore); err != nil {
		return nil, err
	}

	res := &RotateResult{}
	commit := func(oldKey, newKey *crypto.Key, meta crypto.KeyMetadata, canary *crypto.Envelope) error {
		res.Records, res.Legacy = 0, 0
		return m.db.Rotate(meta, canary, func(resource string, rec storage.Record) (json.RawMessage, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			aad := transport.RecordAAD(resource, rec.ID)
			plaintext, legacy, err := openStored(oldKey, rec.Data, aad)
			if err != nil {
				return nil, fmt.Errorf("entry %s/%s: %w", resource, rec.ID, err)
			}
			defer crypto.ClearBytes(plaintext)

			env, err := crypto.Encrypt(newKey, plaintext, aad)
			if err != nil {
				return nil, err
			}
			res.Records++
			if legacy {
				res.Legacy++
			}
			return json.Marshal(env)
		})
	}

	meta, err := m.keys.Rotate(ctx, newPassword, commit)
	if err != nil {
		return nil, err
	}
	res.Metadata = meta
	m.status.Refresh()

	if err := m.keys.SaveToSession(ctx); err != nil {
		m.logger.Warn("session not saved", slog.Any("error", err))
	}
	if err := m.db.Compact(); err != nil {
		m.logger.Warn("compaction after rotation failed", slog.Any("error", err))
	}

	m.logger.Info("journal re-encrypted",
		slog.Int("records", res.Records),
		slog.Int("legacy", res.Legacy))
	return res, nil
}

func openStored(key *crypto.Key, data json.RawMessage, aad []byte) ([]byte, bool, error) {
	p, err := transport.Classify(data)
	if err != nil {
		return nil, false, err
	}
	switch p := p.(type) {
	case transport.Plaintext:
		out := make([]byte, len(p.Raw))
		copy(out, p.Raw)
		return out, true, nil
	case transport.Sealed:
		out, err := crypto.Decrypt(key, p.Envelope, aad)
		return out, false, err
	default:
		panic(fmt.Sprintf("unexpected payload %T", p))
	}
}

// Compact rewrites the journal file without free pages.
func (m *Moodlock) Compact() error {
	return m.db.Compact()
}
