package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/illarion/moodlock/internal/crypto"
)

const (
	capsuleVersion = 1
	DefaultTTL     = 12 * time.Hour
)

// Capsule is the stored form of a session's master key.
type Capsule struct {
	Version   int              `json:"version"`
	AccountID string           `json:"accountId"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Key       *crypto.Envelope `json:"key"`
}

func (c *Capsule) aad(scopeID string) []byte {
	return crypto.AAD("session-capsule", strconv.Itoa(c.Version), scopeID, c.AccountID,
		c.ExpiresAt.UTC().Format(time.RFC3339Nano))
}

// Scope is one client session. It is safe for concurrent use.
type Scope struct {
	id    string
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu  sync.Mutex
	key *memguard.Enclave
}

// NewScope starts a new session with a fresh id and capsule key.
func NewScope(store Store, ttl time.Duration) *Scope {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Scope{
		id:    uuid.NewString(),
		store: store,
		ttl:   ttl,
		now:   time.Now,
		key:   memguard.NewEnclaveRandom(crypto.KeySize),
	}
}

// ResumeScope rebuilds a scope from a token produced by Scope.Token.
func ResumeScope(store Store, token string, ttl time.Duration) (*Scope, error) {
	id, encoded, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) != crypto.KeySize {
		crypto.ClearBytes(raw)
		return nil, ErrInvalidToken
	}

	s := NewScope(store, ttl)
	s.id = id
	s.key = memguard.NewEnclave(raw) // wipes raw
	return s, nil
}

// ID returns the session id under which the capsule is stored.
func (s *Scope) ID() string {
	return s.id
}

// Token encodes the session id and capsule key. Whoever holds the token can
// open the capsule, so it must stay within the session (environment, memory).
func (s *Scope) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return "", ErrClosed
	}
	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening capsule key: %w", err)
	}
	defer buf.Destroy()
	return s.id + "." + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Scope) withCapsuleKey(fn func(*crypto.Key) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return ErrClosed
	}
	buf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("opening capsule key: %w", err)
	}
	key, err := crypto.NewKey(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return err
	}
	defer key.Destroy()
	return fn(key)
}

// Seal encrypts master under the capsule key and writes the capsule.
func (s *Scope) Seal(ctx context.Context, accountID string, master *crypto.Key) error {
	c := &Capsule{
		Version:   capsuleVersion,
		AccountID: accountID,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	}
	err := s.withCapsuleKey(func(k *crypto.Key) error {
		env, err := crypto.Encrypt(k, master.Bytes(), c.aad(s.id))
		if err != nil {
			return err
		}
		c.Key = env
		return nil
	})
	if err != nil {
		return fmt.Errorf("sealing capsule: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding capsule: %w", err)
	}
	return s.store.Put(ctx, s.id, data, s.ttl)
}

// Open reads the capsule and returns the master key it holds.
func (s *Scope) Open(ctx context.Context, accountID string) (*crypto.Key, error) {
	data, err := s.store.Get(ctx, s.id)
	if err != nil {
		return nil, err
	}

	var c Capsule
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrMalformedEnvelope, err)
	}
	if c.Version != capsuleVersion || c.Key == nil {
		return nil, crypto.ErrUnsupportedEnvelope
	}
	if c.AccountID != accountID {
		return nil, ErrWrongAccount
	}
	if s.now().After(c.ExpiresAt) {
		_ = s.store.Delete(ctx, s.id)
		return nil, ErrExpired
	}

	var master *crypto.Key
	err = s.withCapsuleKey(func(k *crypto.Key) error {
		raw, err := crypto.Decrypt(k, c.Key, c.aad(s.id))
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(raw)
		master, err = crypto.NewKey(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return master, nil
}

// Clear deletes the capsule and rotates the capsule key. The scope stays usable
// but its previous token no longer opens anything.
func (s *Scope) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.key != nil {
		s.key = memguard.NewEnclaveRandom(crypto.KeySize)
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Close ends the session: the capsule key is dropped and the scope can no longer
// seal or open capsules. The stored capsule, if any, becomes undecryptable.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
}
