package recovery

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/illarion/moodlock/internal/crypto"
)

const (
	EnvelopeVersion = 1

	DefaultSecretBytes = 20
	MinSecretBytes     = 16
	DefaultGroupSize   = 4

	saltSize = 32
	hkdfInfo = "moodlock recovery wrapping key v1"
)

// ErrNothingPending is returned by ConfirmSaved when no secret was generated.
var ErrNothingPending = errors.New("no recovery key pending confirmation")

// Envelope is the stored form of the master key, wrapped under a recovery secret.
type Envelope struct {
	Version   int              `json:"version"`
	Encoding  Encoding         `json:"encoding"`
	Salt      []byte           `json:"salt"`
	Wrapped   *crypto.Envelope `json:"wrapped"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (e *Envelope) aad() []byte {
	return crypto.AAD("recovery", strconv.Itoa(e.Version), string(e.Encoding))
}

// Validate checks the envelope's shape.
func (e *Envelope) Validate() error {
	switch {
	case e == nil:
		return errors.New("recovery envelope is missing")
	case e.Version != EnvelopeVersion:
		return fmt.Errorf("unsupported recovery envelope version %d", e.Version)
	case len(e.Salt) < crypto.MinSaltSize:
		return fmt.Errorf("recovery salt too short: %d bytes", len(e.Salt))
	case e.Wrapped == nil:
		return errors.New("recovery envelope has no wrapped key")
	}
	if _, err := ParseEncoding(string(e.Encoding)); err != nil {
		return err
	}
	return e.Wrapped.Validate()
}

// Record is a freshly generated recovery key. Secret must be shown to the user
// once and never stored.
type Record struct {
	Secret   string
	Envelope *Envelope
}

// KeyHolder lends the master key and records whether a recovery key exists.
// *lifecycle.Manager satisfies it.
type KeyHolder interface {
	WithKey(fn func(*crypto.Key) error) error
	SetRecoveryFlag(ctx context.Context, has bool) error
}

// EnvelopeSink persists a confirmed recovery envelope.
type EnvelopeSink interface {
	SaveRecoveryEnvelope(ctx context.Context, env *Envelope) error
}

// Options configures a System.
type Options struct {
	Encoding    Encoding
	SecretBytes int
	GroupSize   int
	Logger      *slog.Logger
}

// System generates, confirms and redeems recovery keys for one account.
type System struct {
	keys KeyHolder
	sink EnvelopeSink
	opts Options

	mu      sync.Mutex
	pending *Envelope
}

// New returns a System. Zero option values select the defaults.
func New(keys KeyHolder, sink EnvelopeSink, opts Options) *System {
	if opts.Encoding == "" {
		opts.Encoding = EncodingCrockford
	}
	if opts.SecretBytes == 0 {
		opts.SecretBytes = DefaultSecretBytes
	}
	if opts.GroupSize == 0 {
		opts.GroupSize = DefaultGroupSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With(slog.String("component", "recovery"))
	return &System{keys: keys, sink: sink, opts: opts}
}

// Generate creates a recovery secret and wraps the current master key under it.
// The envelope is held as pending until ConfirmSaved; a previous pending one is dropped.
func (s *System) Generate(ctx context.Context) (*Record, error) {
	if s.opts.SecretBytes < MinSecretBytes {
		return nil, fmt.Errorf("recovery secret must be at least %d bytes, got %d", MinSecretBytes, s.opts.SecretBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := crypto.GenerateRandom(s.opts.SecretBytes)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(secret)

	salt, err := crypto.GenerateRandom(saltSize)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Version:   EnvelopeVersion,
		Encoding:  s.opts.Encoding,
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
	}

	wrapKey, err := wrappingKey(secret, salt)
	if err != nil {
		return nil, err
	}
	defer wrapKey.Destroy()

	err = s.keys.WithKey(func(master *crypto.Key) error {
		env.Wrapped, err = crypto.Encrypt(wrapKey, master.Bytes(), env.aad())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pending = env
	s.mu.Unlock()

	s.opts.Logger.Debug("recovery key generated", slog.String("encoding", string(env.Encoding)))
	return &Record{
		Secret:   Format(secret, env.Encoding, s.opts.GroupSize),
		Envelope: env,
	}, nil
}

// Pending reports whether a generated key awaits confirmation.
func (s *System) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// ConfirmSaved persists the pending envelope and marks the account as having a
// recovery key. It takes the user's word that the secret was saved.
func (s *System) ConfirmSaved(ctx context.Context) error {
	s.mu.Lock()
	env := s.pending
	s.mu.Unlock()
	if env == nil {
		return ErrNothingPending
	}

	if err := s.sink.SaveRecoveryEnvelope(ctx, env); err != nil {
		return fmt.Errorf("failed to save recovery key: %w", err)
	}
	if err := s.keys.SetRecoveryFlag(ctx, true); err != nil {
		return fmt.Errorf("failed to update key metadata: %w", err)
	}

	s.mu.Lock()
	if s.pending == env {
		s.pending = nil
	}
	s.mu.Unlock()

	s.opts.Logger.Info("recovery key confirmed")
	return nil
}

// Discard drops the pending envelope without saving it.
func (s *System) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// RecoverWith unwraps the master key from env using the secret typed by the user.
// Any failure, a mistyped secret included, is reported as ErrRecoveryFailed.
func RecoverWith(secret string, env *Envelope) (*crypto.Key, error) {
	if err := env.Validate(); err != nil {
		return nil, errors.Join(crypto.ErrRecoveryFailed, err)
	}

	raw, err := Parse(secret, env.Encoding)
	if err != nil {
		return nil, errors.Join(crypto.ErrRecoveryFailed, err)
	}
	defer crypto.ClearBytes(raw)

	wrapKey, err := wrappingKey(raw, env.Salt)
	if err != nil {
		return nil, errors.Join(crypto.ErrRecoveryFailed, err)
	}
	defer wrapKey.Destroy()

	plain, err := crypto.Decrypt(wrapKey, env.Wrapped, env.aad())
	if err != nil {
		return nil, errors.Join(crypto.ErrRecoveryFailed, crypto.ErrDecryptionFailed)
	}
	defer crypto.ClearBytes(plain)

	key, err := crypto.NewKey(plain)
	if err != nil {
		return nil, errors.Join(crypto.ErrRecoveryFailed, err)
	}
	return key, nil
}

func wrappingKey(secret, salt []byte) (*crypto.Key, error) {
	raw := make([]byte, crypto.KeySize)
	defer crypto.ClearBytes(raw)

	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), raw); err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}
	return crypto.NewKey(raw)
}
