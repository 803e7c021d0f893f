package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/session"
)

// MetadataStore persists the public half of an account's encryption state.
type MetadataStore interface {
	SaveEncryptionState(ctx context.Context, meta crypto.KeyMetadata, canary *crypto.Envelope) error
}

// Observer is notified of state changes and derivation progress.
// Callbacks run on the goroutine that caused the change and must not block.
type Observer interface {
	StateChanged(from, to State)
	ProgressChanged(p crypto.Progress)
}

// Options configures a Manager.
type Options struct {
	AccountID string
	Store     MetadataStore
	// Scope is the client session used by SaveToSession and RestoreFromSession. Optional.
	Scope *session.Scope
	// Canary is the account's key-check envelope, if already known.
	Canary     *crypto.Envelope
	Iterations uint32
	SaltSize   int
	Logger     *slog.Logger
}

// Manager owns the in-memory master key of one account.
type Manager struct {
	accountID  string
	store      MetadataStore
	scope      *session.Scope
	iterations uint32
	saltSize   int
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	slot      *memguard.Enclave
	meta      crypto.KeyMetadata
	canary    *crypto.Envelope
	task      *crypto.Task
	gen       uint64
	rotating  bool
	observers []Observer

	// progressMu orders progress delivery against Clear.
	progressMu sync.Mutex
}

// New creates a Manager in the Absent state.
func New(opts Options) *Manager {
	if opts.Iterations == 0 {
		opts.Iterations = crypto.DefaultIters
	}
	if opts.SaltSize == 0 {
		opts.SaltSize = crypto.SaltSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		accountID:  opts.AccountID,
		store:      opts.Store,
		scope:      opts.Scope,
		iterations: opts.Iterations,
		saltSize:   opts.SaltSize,
		logger:     opts.Logger.With(slog.String("component", "lifecycle")),
		canary:     opts.Canary,
	}
}

// AccountID returns the account the manager holds a key for.
func (m *Manager) AccountID() string {
	return m.accountID
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Metadata returns the metadata of the loaded key. It is zero before the first derivation.
func (m *Manager) Metadata() crypto.KeyMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.Clone()
}

// SetMetadata records metadata known to belong to the loaded key, e.g. after a session restore.
func (m *Manager) SetMetadata(meta crypto.KeyMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = meta.Clone()
}

// Canary returns the key-check envelope.
func (m *Manager) Canary() *crypto.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canary
}

// SetCanary sets the key-check envelope used by ValidateKey.
func (m *Manager) SetCanary(canary *crypto.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canary = canary
}

// AddObserver registers o for state and progress notifications.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) snapshotObservers() []Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Observer(nil), m.observers...)
}

func (m *Manager) notifyState(from, to State) {
	if from == to {
		return
	}
	m.logger.Debug("key state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	for _, o := range m.snapshotObservers() {
		o.StateChanged(from, to)
	}
}

// notifyProgress forwards p unless the derivation of generation gen has been
// superseded by Clear.
func (m *Manager) notifyProgress(gen uint64, p crypto.Progress) {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, o := range observers {
		o.ProgressChanged(p)
	}
}

// setStateLocked must be called with mu held. It returns the previous state.
func (m *Manager) setStateLocked(to State) (State, error) {
	from := m.state
	if !canTransition(from, to) {
		return from, &ErrNoTransition{From: from, To: to}
	}
	m.state = to
	return from, nil
}

// install seals key into the slot and takes ownership of it.
// Must be called with mu held.
func (m *Manager) installLocked(key *crypto.Key) {
	m.slot = memguard.NewEnclave(key.Bytes()) // wipes the key
	key.Destroy()
}

// InitializeEncryption sets up encryption for a new account: it creates metadata
// with a fresh salt, derives the key, stores metadata and canary, and leaves the
// manager Available.
func (m *Manager) InitializeEncryption(ctx context.Context, password []byte) (crypto.KeyMetadata, error) {
	meta, err := crypto.NewKeyMetadata(m.iterations, m.saltSize)
	if err != nil {
		return crypto.KeyMetadata{}, err
	}

	if err := m.DeriveOnLogin(ctx, password, meta); err != nil {
		return crypto.KeyMetadata{}, err
	}

	var canary *crypto.Envelope
	err = m.WithKey(func(k *crypto.Key) error {
		var err error
		canary, err = NewCanary(k, m.accountID)
		return err
	})
	if err == nil && m.store != nil {
		err = m.store.SaveEncryptionState(ctx, meta, canary)
	}
	if err != nil {
		_ = m.Clear(ctx)
		return crypto.KeyMetadata{}, fmt.Errorf("failed to store encryption state: %w", err)
	}

	m.SetCanary(canary)
	m.logger.Info("encryption initialized", slog.Uint64("iterations", uint64(meta.Iterations)))
	return meta, nil
}

// DeriveOnLogin derives the key for password and meta and makes it Available.
//
// The password is not checked: a wrong password yields a well-formed key that
// only fails later, when it cannot decrypt. ctx cancellation or a concurrent
// Clear abort the derivation and leave the manager Absent.
func (m *Manager) DeriveOnLogin(ctx context.Context, password []byte, meta crypto.KeyMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == Deriving || m.rotating {
		m.mu.Unlock()
		return ErrBusy
	}
	from, err := m.setStateLocked(Deriving)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.gen++
	gen := m.gen
	task := crypto.Start(ctx, password, meta)
	m.task = task
	m.mu.Unlock()

	m.notifyState(from, Deriving)
	started := time.Now()

	for p := range task.Progress() {
		m.notifyProgress(gen, p)
	}
	key, err := task.Wait()

	m.mu.Lock()
	if gen != m.gen {
		// Cleared while deriving; Clear already moved us to Absent.
		m.mu.Unlock()
		key.Destroy()
		return crypto.ErrTaskCancelled
	}
	m.task = nil

	var to State
	switch {
	case err == nil:
		to = Available
		m.installLocked(key)
		m.meta = meta.Clone()
	case errors.Is(err, crypto.ErrTaskCancelled), errors.Is(err, context.Canceled):
		to = Absent
	default:
		to = Error
	}
	from, _ = m.setStateLocked(to)
	m.mu.Unlock()

	m.notifyState(from, to)
	if err != nil {
		m.logger.Warn("key derivation did not complete", slog.String("state", to.String()), slog.Any("error", err))
		return err
	}
	m.logger.Debug("key derived", slog.Duration("elapsed", time.Since(started)))
	return nil
}

// WithKey lends the master key to fn. The key is destroyed when fn returns and
// must not be retained. It fails with crypto.ErrKeyUnavailable unless Available.
func (m *Manager) WithKey(fn func(*crypto.Key) error) error {
	m.mu.Lock()
	slot, state := m.slot, m.state
	m.mu.Unlock()

	if state != Available || slot == nil {
		return crypto.ErrKeyUnavailable
	}

	buf, err := slot.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	key, err := crypto.NewKey(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return err
	}
	defer key.Destroy()

	return fn(key)
}

// ValidateKey reports whether the Available key decrypts the account's canary.
func (m *Manager) ValidateKey() bool {
	canary := m.Canary()
	if canary == nil {
		return false
	}
	var ok bool
	err := m.WithKey(func(k *crypto.Key) error {
		ok = CheckCanary(k, m.accountID, canary)
		return nil
	})
	return err == nil && ok
}

// Adopt installs a key obtained elsewhere, such as from a recovery envelope.
// The key must decrypt the canary when one is known. Adopt takes ownership of key.
func (m *Manager) Adopt(ctx context.Context, key *crypto.Key) error {
	canary := m.Canary()
	if canary != nil && !CheckCanary(key, m.accountID, canary) {
		key.Destroy()
		return crypto.ErrDecryptionFailed
	}

	m.mu.Lock()
	if m.state == Deriving || m.rotating {
		m.mu.Unlock()
		key.Destroy()
		return ErrBusy
	}
	from, err := m.setStateLocked(Available)
	if err != nil {
		m.mu.Unlock()
		key.Destroy()
		return err
	}
	m.installLocked(key)
	m.mu.Unlock()

	m.notifyState(from, Available)
	return nil
}

// SaveToSession writes the current key to the session capsule.
func (m *Manager) SaveToSession(ctx context.Context) error {
	if m.scope == nil {
		return ErrNoSession
	}
	return m.WithKey(func(k *crypto.Key) error {
		return m.scope.Seal(ctx, m.accountID, k)
	})
}

// RestoreFromSession loads the key from the session capsule. The key is only
// accepted if it decrypts the canary; on any failure the manager and capsule
// are cleared and false is returned. The error is non-nil only when the
// session store itself failed.
func (m *Manager) RestoreFromSession(ctx context.Context) (bool, error) {
	if m.scope == nil {
		return false, ErrNoSession
	}

	switch m.State() {
	case Available:
		return true, nil
	case Deriving:
		return false, ErrBusy
	}

	key, err := m.scope.Open(ctx, m.accountID)
	if err != nil {
		_ = m.Clear(ctx)
		if isCapsuleRejection(err) {
			m.logger.Debug("session capsule not restored", slog.Any("reason", err))
			return false, nil
		}
		return false, fmt.Errorf("failed to read session capsule: %w", err)
	}

	if !CheckCanary(key, m.accountID, m.Canary()) {
		key.Destroy()
		m.logger.Warn("session capsule key failed validation")
		_ = m.Clear(ctx)
		return false, nil
	}

	if err := m.Adopt(ctx, key); err != nil {
		_ = m.Clear(ctx)
		return false, nil
	}
	return true, nil
}

func isCapsuleRejection(err error) bool {
	for _, target := range []error{
		session.ErrNotFound,
		session.ErrExpired,
		session.ErrWrongAccount,
		session.ErrClosed,
		crypto.ErrDecryptionFailed,
		crypto.ErrMalformedEnvelope,
		crypto.ErrUnsupportedEnvelope,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Clear drops the key, cancels any running derivation and deletes the session
// capsule. It is safe to call repeatedly.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	if m.task != nil {
		m.task.Cancel()
		m.task = nil
	}
	m.gen++
	m.slot = nil
	from := m.state
	m.state = Absent
	m.mu.Unlock()

	// Wait out a progress event already being delivered.
	m.progressMu.Lock()
	m.progressMu.Unlock()

	m.notifyState(from, Absent)

	if m.scope != nil {
		if err := m.scope.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear session capsule: %w", err)
		}
	}
	return nil
}

// SetRecoveryFlag records whether the account has a confirmed recovery key and persists the metadata.
func (m *Manager) SetRecoveryFlag(ctx context.Context, has bool) error {
	m.mu.Lock()
	m.meta.HasRecoveryKey = has
	meta, canary := m.meta.Clone(), m.canary
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.SaveEncryptionState(ctx, meta, canary)
}

// RotateFunc re-encrypts data from oldKey to newKey and persists it together
// with the new metadata and canary, ideally in one transaction.
type RotateFunc func(oldKey, newKey *crypto.Key, meta crypto.KeyMetadata, canary *crypto.Envelope) error

// Rotate replaces the master key with one derived from password under fresh
// metadata. If commit fails nothing changes. Without a commit function the new
// metadata is written to the manager's store. The new metadata never has fewer
// iterations than the old one, and has no recovery key.
func (m *Manager) Rotate(ctx context.Context, password []byte, commit RotateFunc) (crypto.KeyMetadata, error) {
	m.mu.Lock()
	if m.state != Available {
		m.mu.Unlock()
		return crypto.KeyMetadata{}, crypto.ErrKeyUnavailable
	}
	if m.rotating {
		m.mu.Unlock()
		return crypto.KeyMetadata{}, ErrBusy
	}
	m.rotating = true
	gen := m.gen
	iterations := max(m.iterations, m.meta.Iterations)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.rotating = false
		m.mu.Unlock()
	}()

	meta, err := crypto.NewKeyMetadata(iterations, m.saltSize)
	if err != nil {
		return crypto.KeyMetadata{}, err
	}
	newKey, err := crypto.Derive(ctx, password, meta, func(p crypto.Progress) {
		m.notifyProgress(gen, p)
	})
	if err != nil {
		return crypto.KeyMetadata{}, err
	}
	defer newKey.Destroy()

	canary, err := NewCanary(newKey, m.accountID)
	if err != nil {
		return crypto.KeyMetadata{}, err
	}

	switch {
	case commit != nil:
		err = m.WithKey(func(old *crypto.Key) error { return commit(old, newKey, meta, canary) })
	case m.store != nil:
		err = m.store.SaveEncryptionState(ctx, meta, canary)
	}
	if err != nil {
		return crypto.KeyMetadata{}, fmt.Errorf("failed to commit rotated key: %w", err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return crypto.KeyMetadata{}, crypto.ErrKeyUnavailable
	}
	m.installLocked(newKey.Clone())
	m.meta = meta.Clone()
	m.canary = canary
	m.mu.Unlock()

	m.logger.Info("master key rotated", slog.Uint64("iterations", uint64(meta.Iterations)))
	return meta, nil
}
