package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

const serviceName = "moodlock-session"

// KeyringStore stores capsules in the OS keyring.
// The keyring has no expiry; capsules carry their own.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store backed by the OS keyring.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: serviceName}
}

// Get retrieves a capsule from the OS keyring
func (s *KeyringStore) Get(_ context.Context, id string) ([]byte, error) {
	encoded, err := keyring.Get(s.service, id)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading capsule from OS keyring: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding capsule from OS keyring: %w", err)
	}
	return data, nil
}

// Put stores a capsule in the OS keyring
func (s *KeyringStore) Put(_ context.Context, id string, data []byte, _ time.Duration) error {
	if err := keyring.Set(s.service, id, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("storing capsule in OS keyring: %w", err)
	}
	return nil
}

// Delete removes a capsule from the OS keyring
func (s *KeyringStore) Delete(_ context.Context, id string) error {
	if err := keyring.Delete(s.service, id); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting capsule from OS keyring: %w", err)
	}
	return nil
}
