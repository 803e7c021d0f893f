package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("session capsule not found")
	ErrExpired      = errors.New("session capsule expired")
	ErrInvalidToken = errors.New("invalid session token")
	ErrWrongAccount = errors.New("session capsule belongs to another account")
	ErrClosed       = errors.New("session scope closed")
)

// Store persists opaque capsule bytes for the lifetime of a session.
type Store interface {
	// Get returns the capsule stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	// Put stores a capsule. ttl is a hint; stores without expiry may ignore it.
	Put(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// Delete removes a capsule. Deleting a missing capsule is not an error.
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps capsules in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (s *MemoryStore) Put(_ context.Context, id string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}
