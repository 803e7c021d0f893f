package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/illarion/moodlock/internal/storage"
	"github.com/illarion/moodlock/internal/transport"
)

// ErrRecordNotFound is returned by Open for a missing entry.
var ErrRecordNotFound = errors.New("entry not found")

// Seal encrypts v and stores it as resource/id. An empty id is replaced by a
// new UUID. The id is returned.
func (m *Moodlock) Seal(ctx context.Context, resource, id string, v any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	env, err := m.adapter.Seal(ctx, v, transport.RecordAAD(resource, id))
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	if err := m.db.PutRecord(resource, id, data); err != nil {
		return "", fmt.Errorf("failed to save entry: %w", err)
	}

	if m.api != nil {
		if err := m.api.CreateRecord(ctx, resource, id, v); err != nil {
			return id, fmt.Errorf("entry saved locally, upload failed: %w", err)
		}
	}

	m.logger.Debug("entry sealed", slog.String("resource", resource), slog.String("id", id))
	return id, nil
}

// Open decrypts resource/id into out.
func (m *Moodlock) Open(ctx context.Context, resource, id string, out any) error {
	rec, err := m.db.GetRecord(resource, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, resource, id)
	}
	if err != nil {
		return err
	}
	return m.adapter.Open(ctx, rec.Data, transport.RecordAAD(resource, id), out)
}

// List decrypts every entry of resource. With an API configured the entries
// come from the API, otherwise from the journal.
func (m *Moodlock) List(ctx context.Context, resource string) (*transport.BatchResult, error) {
	if m.api != nil {
		return m.api.ListRecords(ctx, resource)
	}

	stored, err := m.db.ListRecords(resource)
	if err != nil {
		return nil, err
	}
	records := make([]transport.Record, len(stored))
	for i, rec := range stored {
		records[i] = transport.Record{ID: rec.ID, Data: rec.Data, AAD: transport.RecordAAD(resource, rec.ID)}
	}
	return m.adapter.OpenBatch(ctx, records)
}

// Import stores plain JSON as resource/id without encrypting it. Such entries
// are read back as legacy and encrypted by the next rotation.
func (m *Moodlock) Import(resource, id string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("entry %s/%s is not valid JSON", resource, id)
	}
	return m.db.PutRecord(resource, id, data)
}

// Resources returns the journal's resources with their entry counts.
func (m *Moodlock) Resources() (map[string]int, error) {
	return m.db.CountRecords()
}

// Delete removes resource/id from the journal.
func (m *Moodlock) Delete(resource, id string) error {
	err := m.db.DeleteRecord(resource, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, resource, id)
	}
	return err
}
