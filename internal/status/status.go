// Package status exposes the encryption state to the user interface and
// decides which failures the user has to act on.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/lifecycle"
	"github.com/illarion/moodlock/internal/recovery"
)

// Action is what the user must do to get out of an error.
type Action int

const (
	ActionRelogin Action = iota + 1
	ActionEnterRecoveryKey
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionRelogin:
		return "re-enter password"
	case ActionEnterRecoveryKey:
		return "enter recovery key"
	case ActionFatal:
		return "contact support"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// UserActionError is returned when only the user can resolve a failure.
type UserActionError struct {
	Action Action
	Err    error
}

func (e *UserActionError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Err, e.Action)
}

func (e *UserActionError) Unwrap() error {
	return e.Err
}

// Snapshot is the observable encryption state.
type Snapshot struct {
	State          lifecycle.State
	Progress       crypto.Progress
	HasRecoveryKey bool
	LastError      error
}

// Options configures a Facade.
type Options struct {
	// DeriveRetries is how many times a failed derivation is retried before giving up.
	DeriveRetries int
	Logger        *slog.Logger
}

// Facade wraps a lifecycle.Manager with observable status and the error policy
// of the user-facing operations.
type Facade struct {
	mgr     *lifecycle.Manager
	retries int
	logger  *slog.Logger

	mu   sync.Mutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

// New returns a Facade observing mgr.
func New(mgr *lifecycle.Manager, opts Options) *Facade {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	f := &Facade{
		mgr:     mgr,
		retries: max(opts.DeriveRetries, 0),
		logger:  opts.Logger.With(slog.String("component", "status")),
		subs:    make(map[int]chan Snapshot),
	}
	f.snap = Snapshot{
		State:          mgr.State(),
		Progress:       crypto.Progress{Status: crypto.StatusIdle},
		HasRecoveryKey: mgr.Metadata().HasRecoveryKey,
	}
	mgr.AddObserver(f)
	return f
}

// StateChanged implements lifecycle.Observer.
func (f *Facade) StateChanged(_, to lifecycle.State) {
	f.update(func(s *Snapshot) {
		s.State = to
		switch to {
		case lifecycle.Absent:
			s.Progress = crypto.Progress{Status: crypto.StatusIdle}
		case lifecycle.Deriving:
			s.LastError = nil
		}
	})
}

// ProgressChanged implements lifecycle.Observer.
func (f *Facade) ProgressChanged(p crypto.Progress) {
	f.update(func(s *Snapshot) {
		s.Progress = p
	})
}

// Snapshot returns the current state.
func (f *Facade) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// Subscribe returns a channel receiving every new snapshot and a function that
// unsubscribes. A slow reader misses intermediate snapshots but always gets the latest.
func (f *Facade) Subscribe() (<-chan Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan Snapshot, 1)
	ch <- f.snap
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

// Refresh re-reads the manager's metadata, e.g. after a recovery key was confirmed.
func (f *Facade) Refresh() {
	has := f.mgr.Metadata().HasRecoveryKey
	f.update(func(s *Snapshot) {
		s.HasRecoveryKey = has
	})
}

func (f *Facade) update(fn func(*Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.snap)
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f.snap
	}
}

// Initialize sets up encryption for a new account.
func (f *Facade) Initialize(ctx context.Context, password []byte) (crypto.KeyMetadata, error) {
	var meta crypto.KeyMetadata
	err := f.withRetry(ctx, func() error {
		var err error
		meta, err = f.mgr.InitializeEncryption(ctx, password)
		return err
	})
	if err != nil {
		return crypto.KeyMetadata{}, f.handle(err)
	}
	f.Refresh()
	return meta, nil
}

// Login derives the key for password. When the account's canary is known a
// wrong password is detected here; otherwise the first decryption will fail.
func (f *Facade) Login(ctx context.Context, password []byte, meta crypto.KeyMetadata) error {
	if f.mgr.State() == lifecycle.Available {
		if err := f.mgr.Clear(ctx); err != nil {
			return f.handle(err)
		}
	}

	err := f.withRetry(ctx, func() error {
		return f.mgr.DeriveOnLogin(ctx, password, meta)
	})
	if err != nil {
		return f.handle(err)
	}

	if f.mgr.Canary() != nil && !f.mgr.ValidateKey() {
		_ = f.mgr.Clear(ctx)
		return f.handle(crypto.ErrDecryptionFailed)
	}
	f.Refresh()
	return nil
}

// Restore loads the key from the session capsule. false means the user has to log in.
func (f *Facade) Restore(ctx context.Context) (bool, error) {
	ok, err := f.mgr.RestoreFromSession(ctx)
	if err != nil {
		return false, f.handle(err)
	}
	f.Refresh()
	return ok, nil
}

// Logout clears the key and the session capsule.
func (f *Facade) Logout(ctx context.Context) error {
	if err := f.mgr.Clear(ctx); err != nil {
		return f.handle(err)
	}
	f.update(func(s *Snapshot) { s.LastError = nil })
	return nil
}

// Recover unwraps the master key with a recovery secret and makes it available.
func (f *Facade) Recover(ctx context.Context, secret string, env *recovery.Envelope) error {
	key, err := recovery.RecoverWith(secret, env)
	if err != nil {
		return f.handle(err)
	}
	if err := f.mgr.Adopt(ctx, key); err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			// The secret opened the envelope but the key is not this account's.
			err = errors.Join(crypto.ErrRecoveryFailed, err)
		}
		return f.handle(err)
	}
	f.Refresh()
	return nil
}

func (f *Facade) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, crypto.ErrKeyDerivationFailed) || ctx.Err() != nil {
			return err
		}
		f.logger.Warn("key derivation failed, retrying", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return err
}

// handle records err in the snapshot and converts it to what the caller should see.
// Cancellation is not a failure: it is returned unchanged and leaves no error behind.
func (f *Facade) handle(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, crypto.ErrTaskCancelled) {
		f.update(func(s *Snapshot) {
			s.Progress = crypto.Progress{Status: crypto.StatusIdle}
			s.LastError = nil
		})
		return err
	}

	f.update(func(s *Snapshot) { s.LastError = err })

	switch {
	case errors.Is(err, crypto.ErrRecoveryFailed):
		return &UserActionError{Action: ActionEnterRecoveryKey, Err: err}
	case errors.Is(err, crypto.ErrInvalidMetadata):
		f.logger.Error("stored key metadata is invalid", slog.Any("error", err))
		return &UserActionError{Action: ActionFatal, Err: err}
	case errors.Is(err, crypto.ErrDecryptionFailed),
		errors.Is(err, crypto.ErrKeyDerivationFailed),
		errors.Is(err, crypto.ErrKeyUnavailable):
		return &UserActionError{Action: ActionRelogin, Err: err}
	default:
		return err
	}
}
