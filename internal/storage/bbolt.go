package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/recovery"
)

// Bucket names
var (
	ConfigBucket   = []byte("config")   // Schema version, timestamps, account id - unencrypted
	KeyBucket      = []byte("key")      // Key metadata and canary - public, no secrets
	RecoveryBucket = []byte("recovery") // Wrapped recovery envelope
	RecordsBucket  = []byte("records")  // One nested bucket per resource, values are envelopes
)

// Config keys
var (
	ConfigVersion   = []byte("version")
	ConfigCreated   = []byte("created")
	ConfigModified  = []byte("modified")
	ConfigAccountID = []byte("account_id")

	keyState        = []byte("state")
	recoveryCurrent = []byte("current")
)

var (
	// ErrNotFound is returned when the requested value does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotInitialized is returned by operations on a database without buckets.
	ErrNotInitialized = errors.New("storage not initialized")
	// ErrIterationsDecreased is returned when new key metadata has fewer iterations than the stored one.
	ErrIterationsDecreased = errors.New("key iterations may not decrease")
)

// Storage provides BBolt-based storage for moodlock
type Storage struct {
	db *bolt.DB
}

// Open opens or creates a moodlock database
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure and assigns a new account id
func (s *Storage) Initialize() error {
	return s.InitializeAccount(uuid.NewString())
}

// InitializeAccount creates the bucket structure for an existing account.
// An already initialized database keeps its account id.
func (s *Storage) InitializeAccount(accountID string) error {
	if accountID == "" {
		return errors.New("account id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, KeyBucket, RecoveryBucket, RecordsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}
		if err := config.Put(ConfigAccountID, []byte(accountID)); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// AccountID returns the account id assigned by Initialize
func (s *Storage) AccountID() (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		data := config.Get(ConfigAccountID)
		if data == nil {
			return fmt.Errorf("account id: %w", ErrNotFound)
		}
		id = string(data)
		return nil
	})
	return id, err
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time: %w", ErrNotFound)
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

func touch(tx *bolt.Tx) error {
	config := tx.Bucket(ConfigBucket)
	if config == nil {
		return ErrNotInitialized
	}
	modified, _ := time.Now().MarshalBinary()
	return config.Put(ConfigModified, modified)
}

// SaveEncryptionState stores key metadata and canary. Metadata with fewer
// iterations than the stored one is rejected.
func (s *Storage) SaveEncryptionState(_ context.Context, meta crypto.KeyMetadata, canary *crypto.Envelope) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putState(tx, meta, canary)
	})
}

func putState(tx *bolt.Tx, meta crypto.KeyMetadata, canary *crypto.Envelope) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	bucket := tx.Bucket(KeyBucket)
	if bucket == nil {
		return ErrNotInitialized
	}

	if prev, err := decodeState(bucket.Get(keyState)); err == nil && meta.Iterations < prev.Metadata.Iterations {
		return fmt.Errorf("%w: %d < %d", ErrIterationsDecreased, meta.Iterations, prev.Metadata.Iterations)
	}

	data, err := json.Marshal(encryptionState{Metadata: meta, Canary: canary})
	if err != nil {
		return err
	}
	if err := bucket.Put(keyState, data); err != nil {
		return err
	}
	return touch(tx)
}

// EncryptionState returns the stored key metadata and canary. ErrNotFound means
// encryption has not been set up.
func (s *Storage) EncryptionState() (crypto.KeyMetadata, *crypto.Envelope, error) {
	var state *encryptionState
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(KeyBucket)
		if bucket == nil {
			return ErrNotInitialized
		}
		var err error
		state, err = decodeState(bucket.Get(keyState))
		return err
	})
	if err != nil {
		return crypto.KeyMetadata{}, nil, err
	}
	return state.Metadata, state.Canary, nil
}

// SaveRecoveryEnvelope replaces the stored recovery envelope
func (s *Storage) SaveRecoveryEnvelope(_ context.Context, env *recovery.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(RecoveryBucket)
		if bucket == nil {
			return ErrNotInitialized
		}
		if err := bucket.Put(recoveryCurrent, data); err != nil {
			return err
		}
		return touch(tx)
	})
}

// RecoveryEnvelope returns the stored recovery envelope
func (s *Storage) RecoveryEnvelope() (*recovery.Envelope, error) {
	var env recovery.Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(RecoveryBucket)
		if bucket == nil {
			return ErrNotInitialized
		}
		data := bucket.Get(recoveryCurrent)
		if data == nil {
			return fmt.Errorf("recovery key: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// RewriteFunc returns the new stored value of a record.
type RewriteFunc func(resource string, rec Record) (json.RawMessage, error)

// Rotate rewrites every record, stores the new key metadata and canary and
// drops the recovery envelope, all in one transaction.
func (s *Storage) Rotate(meta crypto.KeyMetadata, canary *crypto.Envelope, rewrite RewriteFunc) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := rewriteRecords(tx, rewrite); err != nil {
			return err
		}
		if err := putState(tx, meta, canary); err != nil {
			return err
		}
		if bucket := tx.Bucket(RecoveryBucket); bucket != nil {
			return bucket.Delete(recoveryCurrent)
		}
		return nil
	})
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after rotation rewrote every record.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
