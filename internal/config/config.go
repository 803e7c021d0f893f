// Package config loads moodlock settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already set in the environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/recovery"
)

// Session store kinds
const (
	SessionKeyring = "keyring"
	SessionMemory  = "memory"
	SessionRedis   = "redis"
)

// DatabaseFile is the journal file name inside Dir.
const DatabaseFile = "journal.db"

// Config holds every moodlock setting.
type Config struct {
	Dir string `env:"MOODLOCK_DIR" envDefault:".moodlock"`

	KDFIterations uint32 `env:"MOODLOCK_KDF_ITERATIONS" envDefault:"600000"`
	SaltSize      int    `env:"MOODLOCK_SALT_SIZE" envDefault:"32"`

	RecoveryEncoding string `env:"MOODLOCK_RECOVERY_ENCODING" envDefault:"crockford"`
	RecoveryBytes    int    `env:"MOODLOCK_RECOVERY_BYTES" envDefault:"20"`
	RecoveryGroup    int    `env:"MOODLOCK_RECOVERY_GROUP" envDefault:"4"`

	SessionStore string        `env:"MOODLOCK_SESSION_STORE" envDefault:"keyring"`
	SessionTTL   time.Duration `env:"MOODLOCK_SESSION_TTL" envDefault:"12h"`
	SessionToken string        `env:"MOODLOCK_SESSION"`
	RedisURL     string        `env:"MOODLOCK_REDIS_URL"`

	APIURL string `env:"MOODLOCK_API_URL"`

	BatchConcurrency int           `env:"MOODLOCK_BATCH_CONCURRENCY" envDefault:"4"`
	StallThreshold   time.Duration `env:"MOODLOCK_STALL_THRESHOLD" envDefault:"2s"`
	DeriveRetries    int           `env:"MOODLOCK_DERIVE_RETRIES" envDefault:"1"`

	MinPasswordScore int `env:"MOODLOCK_MIN_PASSWORD_SCORE" envDefault:"2"`

	LogLevel  string `env:"MOODLOCK_LOG_LEVEL" envDefault:"warn"`
	LogFormat string `env:"MOODLOCK_LOG_FORMAT" envDefault:"text"`
}

// DatabasePath returns the journal file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Dir, DatabaseFile)
}

// Load reads .env, if present, and parses the environment.
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()
	return Parse(env.Options{})
}

// Parse parses the environment with opts and validates the result.
func Parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.KDFIterations < crypto.MinIters {
		errs = append(errs, fmt.Errorf("MOODLOCK_KDF_ITERATIONS must be at least %d", crypto.MinIters))
	}
	if c.SaltSize < crypto.MinSaltSize {
		errs = append(errs, fmt.Errorf("MOODLOCK_SALT_SIZE must be at least %d", crypto.MinSaltSize))
	}
	if _, err := recovery.ParseEncoding(c.RecoveryEncoding); err != nil {
		errs = append(errs, fmt.Errorf("MOODLOCK_RECOVERY_ENCODING: %w", err))
	}
	if c.RecoveryBytes < recovery.MinSecretBytes {
		errs = append(errs, fmt.Errorf("MOODLOCK_RECOVERY_BYTES must be at least %d", recovery.MinSecretBytes))
	}
	if c.RecoveryGroup < 0 {
		errs = append(errs, errors.New("MOODLOCK_RECOVERY_GROUP must not be negative"))
	}
	switch c.SessionStore {
	case SessionKeyring, SessionMemory:
	case SessionRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("MOODLOCK_REDIS_URL is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MOODLOCK_SESSION_STORE %q", c.SessionStore))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("MOODLOCK_SESSION_TTL must be positive"))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, errors.New("MOODLOCK_BATCH_CONCURRENCY must be at least 1"))
	}
	if c.DeriveRetries < 0 {
		errs = append(errs, errors.New("MOODLOCK_DERIVE_RETRIES must not be negative"))
	}
	if c.MinPasswordScore < 0 || c.MinPasswordScore > 4 {
		errs = append(errs, errors.New("MOODLOCK_MIN_PASSWORD_SCORE must be between 0 and 4"))
	}
	return errors.Join(errs...)
}
