package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/illarion/moodlock/internal/config"
	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/lifecycle"
	"github.com/illarion/moodlock/internal/recovery"
	"github.com/illarion/moodlock/internal/session"
	"github.com/illarion/moodlock/internal/status"
	"github.com/illarion/moodlock/internal/storage"
	"github.com/illarion/moodlock/internal/transport"
)

const (
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only
)

var (
	ErrNotInitialized    = errors.New("moodlock not initialized")
	ErrAlreadyExists     = errors.New("moodlock already initialized")
	ErrWrongPassword     = errors.New("wrong password")
	ErrPasswordRequired  = errors.New("password required")
	ErrNotLoggedIn       = errors.New("not logged in")
	ErrNoRecoveryKey     = errors.New("no recovery key saved")
	ErrRemoteRotation    = errors.New("key rotation is not supported with a remote API")
	ErrNoEncryptionState = errors.New("encryption not set up")
)

// Moodlock is the client: a local encrypted journal, the in-memory key and,
// optionally, the remote API.
type Moodlock struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *storage.Storage
	accountID string

	sessions session.Store
	scope    *session.Scope

	keys     *lifecycle.Manager
	status   *status.Facade
	adapter  *transport.Adapter
	recovery *recovery.System
	api      *transport.Client
}

// Option configures a Moodlock.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	sessions session.Store
	api      []transport.ClientOption
	progress func(crypto.Progress)
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSessionStore overrides the session store selected by configuration.
func WithSessionStore(s session.Store) Option {
	return func(o *options) { o.sessions = s }
}

// WithAPIOptions passes options to the API client.
func WithAPIOptions(opts ...transport.ClientOption) Option {
	return func(o *options) { o.api = append(o.api, opts...) }
}

// WithProgress receives key derivation progress.
func WithProgress(fn func(crypto.Progress)) Option {
	return func(o *options) { o.progress = fn }
}

type progressFunc func(crypto.Progress)

func (progressFunc) StateChanged(_, _ lifecycle.State) {}

func (f progressFunc) ProgressChanged(p crypto.Progress) { f(p) }

// Exists reports whether a journal exists for cfg.
func Exists(cfg *config.Config) bool {
	_, err := os.Stat(cfg.DatabasePath())
	return err == nil
}

// Init creates the journal and sets up encryption with password. The returned
// Moodlock is logged in.
func Init(ctx context.Context, cfg *config.Config, password []byte, opts ...Option) (*Moodlock, error) {
	if Exists(cfg) {
		return nil, ErrAlreadyExists
	}
	if err := CheckPasswordStrength(password, cfg.MinPasswordScore); err != nil {
		return nil, err
	}

	if cfg.APIURL != "" {
		_, err := remoteState(ctx, cfg, opts)
		if err == nil {
			return nil, fmt.Errorf("%w: the API already has encryption set up, use login", ErrAlreadyExists)
		}
		if !errors.Is(err, ErrNotInitialized) {
			return nil, err
		}
	}

	if err := os.MkdirAll(cfg.Dir, DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.Dir, err)
	}
	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m, err := build(ctx, cfg, db, nil, opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	if _, err := m.status.Initialize(ctx, password); err != nil {
		m.Close()
		return nil, err
	}
	if err := m.keys.SaveToSession(ctx); err != nil {
		m.logger.Warn("session not saved", slog.Any("error", err))
	}
	return m, nil
}

// New opens an existing journal. With an API configured a missing journal is
// created for the account the API holds. The key is not loaded: call Restore
// or Login.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Moodlock, error) {
	var db *storage.Storage
	var err error
	if Exists(cfg) {
		db, err = storage.Open(cfg.DatabasePath())
	} else {
		db, err = bootstrap(ctx, cfg, opts)
	}
	if err != nil {
		return nil, err
	}

	meta, canary, err := db.EncryptionState()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		db.Close()
		return nil, err
	}

	m, err := build(ctx, cfg, db, canary, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	if canary != nil {
		m.keys.SetMetadata(meta)
		m.status.Refresh()
	}
	return m, nil
}

// bootstrap creates a journal from the encryption state held by the API.
func bootstrap(ctx context.Context, cfg *config.Config, opts []Option) (*storage.Storage, error) {
	if cfg.APIURL == "" {
		return nil, ErrNotInitialized
	}
	state, err := remoteState(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if state.AccountID == "" {
		return nil, fmt.Errorf("%w: API returned no account id", crypto.ErrInvalidMetadata)
	}

	if err := os.MkdirAll(cfg.Dir, DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.Dir, err)
	}
	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.InitializeAccount(state.AccountID); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.SaveEncryptionState(ctx, state.Metadata, state.Canary); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// remoteState fetches the encryption state from the API. ErrNotInitialized
// means the API has none.
func remoteState(ctx context.Context, cfg *config.Config, opts []Option) (*transport.EncryptionState, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	api, err := transport.NewClient(cfg.APIURL, nil, o.api...)
	if err != nil {
		return nil, err
	}
	state, err := api.GetMetadata(ctx)
	if errors.Is(err, transport.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key metadata: %w", err)
	}
	return state, nil
}

func build(ctx context.Context, cfg *config.Config, db *storage.Storage, canary *crypto.Envelope, opts []Option) (*Moodlock, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	accountID, err := db.AccountID()
	if err != nil {
		return nil, err
	}

	m := &Moodlock{
		cfg:       cfg,
		logger:    o.logger,
		db:        db,
		accountID: accountID,
		sessions:  o.sessions,
	}

	if m.sessions == nil {
		if m.sessions, err = openSessionStore(ctx, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.SessionToken != "" {
		m.scope, err = session.ResumeScope(m.sessions, cfg.SessionToken, cfg.SessionTTL)
		if err != nil {
			m.logger.Warn("ignoring invalid session token", slog.Any("error", err))
		}
	}
	if m.scope == nil {
		m.scope = session.NewScope(m.sessions, cfg.SessionTTL)
	}

	encoding, err := recovery.ParseEncoding(cfg.RecoveryEncoding)
	if err != nil {
		return nil, err
	}

	states := &stateStores{db}
	sinks := recoverySinks{db}

	m.keys = lifecycle.New(lifecycle.Options{
		AccountID:  accountID,
		Store:      states,
		Scope:      m.scope,
		Canary:     canary,
		Iterations: cfg.KDFIterations,
		SaltSize:   cfg.SaltSize,
		Logger:     m.logger,
	})
	if o.progress != nil {
		m.keys.AddObserver(progressFunc(o.progress))
	}
	m.status = status.New(m.keys, status.Options{DeriveRetries: cfg.DeriveRetries, Logger: m.logger})
	m.adapter = transport.NewAdapter(m.keys, transport.Options{
		Concurrency:    cfg.BatchConcurrency,
		StallThreshold: cfg.StallThreshold,
		Logger:         m.logger,
	})

	if cfg.APIURL != "" {
		apiOpts := append([]transport.ClientOption{transport.WithAccountID(accountID)}, o.api...)
		m.api, err = transport.NewClient(cfg.APIURL, m.adapter, apiOpts...)
		if err != nil {
			return nil, err
		}
		*states = append(*states, m.api)
		sinks = append(sinks, m.api)
	}

	m.recovery = recovery.New(m.keys, sinks, recovery.Options{
		Encoding:    encoding,
		SecretBytes: cfg.RecoveryBytes,
		GroupSize:   cfg.RecoveryGroup,
		Logger:      m.logger,
	})
	return m, nil
}

func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.SessionStore {
	case config.SessionMemory:
		return session.NewMemoryStore(), nil
	case config.SessionRedis:
		return session.ConnectRedis(ctx, cfg.RedisURL)
	default:
		return session.NewKeyringStore(), nil
	}
}

// Close releases the database and session store. The key stays in the session capsule.
func (m *Moodlock) Close() error {
	m.scope.Close()
	var errs []error
	if closer, ok := m.sessions.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, m.db.Close())
	return errors.Join(errs...)
}

// AccountID returns the local account id.
func (m *Moodlock) AccountID() string {
	return m.accountID
}

// Status returns the observable key status.
func (m *Moodlock) Status() *status.Facade {
	return m.status
}

// SessionToken returns the token that resumes this session in another process.
func (m *Moodlock) SessionToken() (string, error) {
	return m.scope.Token()
}
