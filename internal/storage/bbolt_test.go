package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/recovery"
)

func openTestDB(t *testing.T) (*Storage, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.moodlock")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	return db, dbPath
}

func testMetadata(t *testing.T, iterations uint32) crypto.KeyMetadata {
	t.Helper()
	meta, err := crypto.NewKeyMetadata(iterations, crypto.MinSaltSize)
	if err != nil {
		t.Fatalf("Failed to create metadata: %v", err)
	}
	return meta
}

func TestOpenAndInitialize(t *testing.T) {
	db, _ := openTestDB(t)

	initialized, err := db.IsInitialized()
	if err != nil {
		t.Fatalf("Failed to check initialization: %v", err)
	}
	if !initialized {
		t.Error("Database should be initialized")
	}

	id, err := db.AccountID()
	if err != nil {
		t.Fatalf("Failed to get account id: %v", err)
	}
	if id == "" {
		t.Error("Account id should be assigned")
	}

	// Initialize again keeps the account id
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to re-initialize: %v", err)
	}
	again, _ := db.AccountID()
	if again != id {
		t.Errorf("Account id changed: got %s, want %s", again, id)
	}
}

func TestUninitialized(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "empty.moodlock"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if _, _, err := db.EncryptionState(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if err := db.PutRecord("moods", "m1", json.RawMessage(`{}`)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestEncryptionState(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	if _, _, err := db.EncryptionState(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before setup, got %v", err)
	}

	meta := testMetadata(t, crypto.MinIters)
	key, _ := crypto.GenerateKey()
	canary, err := crypto.Encrypt(key, []byte("check"), nil)
	if err != nil {
		t.Fatalf("Failed to encrypt canary: %v", err)
	}

	if err := db.SaveEncryptionState(ctx, meta, canary); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	got, gotCanary, err := db.EncryptionState()
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if string(got.Salt) != string(meta.Salt) {
		t.Errorf("Salt mismatch: got %x, want %x", got.Salt, meta.Salt)
	}
	if got.Iterations != meta.Iterations {
		t.Errorf("Iterations mismatch: got %d, want %d", got.Iterations, meta.Iterations)
	}
	if gotCanary == nil || string(gotCanary.Ciphertext) != string(canary.Ciphertext) {
		t.Error("Canary not stored correctly")
	}
}

func TestEncryptionState_IterationsNeverDecrease(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	if err := db.SaveEncryptionState(ctx, testMetadata(t, 200000), nil); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	err := db.SaveEncryptionState(ctx, testMetadata(t, crypto.MinIters), nil)
	if !errors.Is(err, ErrIterationsDecreased) {
		t.Fatalf("Expected ErrIterationsDecreased, got %v", err)
	}

	if err := db.SaveEncryptionState(ctx, testMetadata(t, 300000), nil); err != nil {
		t.Fatalf("Raising iterations should succeed: %v", err)
	}
}

func TestEncryptionState_RejectsInvalid(t *testing.T) {
	db, _ := openTestDB(t)

	err := db.SaveEncryptionState(context.Background(), crypto.KeyMetadata{Iterations: 1}, nil)
	if !errors.Is(err, crypto.ErrInvalidMetadata) {
		t.Errorf("Expected ErrInvalidMetadata, got %v", err)
	}
}

func TestRecoveryEnvelope(t *testing.T) {
	db, _ := openTestDB(t)

	if _, err := db.RecoveryEnvelope(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	env := &recovery.Envelope{
		Version:  recovery.EnvelopeVersion,
		Encoding: recovery.EncodingCrockford,
		Salt:     []byte("0123456789abcdef0123456789abcdef"),
	}
	if err := db.SaveRecoveryEnvelope(context.Background(), env); err != nil {
		t.Fatalf("Failed to save recovery envelope: %v", err)
	}

	got, err := db.RecoveryEnvelope()
	if err != nil {
		t.Fatalf("Failed to get recovery envelope: %v", err)
	}
	if got.Encoding != env.Encoding || string(got.Salt) != string(env.Salt) {
		t.Errorf("Recovery envelope mismatch: got %+v", got)
	}
}

func TestRecordOperations(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.PutRecord("moods", "m2", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}
	if err := db.PutRecord("moods", "m1", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}
	if err := db.PutRecord("journal", "j1", json.RawMessage(`{"v":3}`)); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}

	recs, err := db.ListRecords("moods")
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "m1" || recs[1].ID != "m2" {
		t.Errorf("Records not ordered by id: %s, %s", recs[0].ID, recs[1].ID)
	}

	first, err := db.GetRecord("moods", "m2")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if err := db.PutRecord("moods", "m2", json.RawMessage(`{"v":9}`)); err != nil {
		t.Fatalf("Failed to overwrite record: %v", err)
	}
	updated, _ := db.GetRecord("moods", "m2")
	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Error("Overwrite should keep the creation time")
	}
	if string(updated.Data) != `{"v":9}` {
		t.Errorf("Data mismatch: got %s", updated.Data)
	}

	resources, err := db.Resources()
	if err != nil {
		t.Fatalf("Failed to list resources: %v", err)
	}
	if strings.Join(resources, ",") != "journal,moods" {
		t.Errorf("Resources mismatch: got %v", resources)
	}

	counts, err := db.CountRecords()
	if err != nil {
		t.Fatalf("Failed to count records: %v", err)
	}
	if counts["moods"] != 2 || counts["journal"] != 1 {
		t.Errorf("Counts mismatch: got %v", counts)
	}

	if err := db.DeleteRecord("moods", "m1"); err != nil {
		t.Fatalf("Failed to delete record: %v", err)
	}
	if _, err := db.GetRecord("moods", "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := db.DeleteRecord("moods", "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}

	empty, err := db.ListRecords("sleep")
	if err != nil || len(empty) != 0 {
		t.Errorf("Unknown resource should list nothing, got %v, %v", empty, err)
	}
}

func TestRotate(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	oldMeta := testMetadata(t, crypto.MinIters)
	if err := db.SaveEncryptionState(ctx, oldMeta, nil); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	env := &recovery.Envelope{Version: recovery.EnvelopeVersion, Salt: make([]byte, 32)}
	if err := db.SaveRecoveryEnvelope(ctx, env); err != nil {
		t.Fatalf("Failed to save recovery envelope: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := db.PutRecord("moods", id, json.RawMessage(`"old"`)); err != nil {
			t.Fatalf("Failed to put record: %v", err)
		}
	}

	newMeta := testMetadata(t, crypto.MinIters)
	err := db.Rotate(newMeta, nil, func(resource string, rec Record) (json.RawMessage, error) {
		return json.RawMessage(`"new-` + rec.ID + `"`), nil
	})
	if err != nil {
		t.Fatalf("Failed to rotate: %v", err)
	}

	recs, _ := db.ListRecords("moods")
	for _, rec := range recs {
		if string(rec.Data) != `"new-`+rec.ID+`"` {
			t.Errorf("Record %s not rewritten: %s", rec.ID, rec.Data)
		}
	}
	got, _, _ := db.EncryptionState()
	if string(got.Salt) != string(newMeta.Salt) {
		t.Error("Metadata not replaced")
	}
	if _, err := db.RecoveryEnvelope(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Recovery envelope should be dropped, got %v", err)
	}
}

func TestRotate_FailureRollsBack(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	oldMeta := testMetadata(t, crypto.MinIters)
	if err := db.SaveEncryptionState(ctx, oldMeta, nil); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := db.PutRecord("moods", id, json.RawMessage(`"old"`)); err != nil {
			t.Fatalf("Failed to put record: %v", err)
		}
	}

	boom := errors.New("cannot decrypt")
	err := db.Rotate(testMetadata(t, crypto.MinIters), nil, func(resource string, rec Record) (json.RawMessage, error) {
		if rec.ID == "b" {
			return nil, boom
		}
		return json.RawMessage(`"new"`), nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected rewrite error, got %v", err)
	}

	rec, _ := db.GetRecord("moods", "a")
	if string(rec.Data) != `"old"` {
		t.Errorf("Record should be unchanged after failed rotation: %s", rec.Data)
	}
	got, _, _ := db.EncryptionState()
	if string(got.Salt) != string(oldMeta.Salt) {
		t.Error("Metadata should be unchanged after failed rotation")
	}
}

func TestCompact(t *testing.T) {
	db, dbPath := openTestDB(t)
	ctx := context.Background()

	if err := db.SaveEncryptionState(ctx, testMetadata(t, crypto.MinIters), nil); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	if err := db.PutRecord("moods", "m1", json.RawMessage(`{"mood_score":7}`)); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}

	if err := db.Compact(); err != nil {
		t.Fatalf("Failed to compact: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path changed: got %s, want %s", db.Path(), dbPath)
	}

	rec, err := db.GetRecord("moods", "m1")
	if err != nil {
		t.Fatalf("Record lost in compaction: %v", err)
	}
	if string(rec.Data) != `{"mood_score":7}` {
		t.Errorf("Data mismatch: got %s", rec.Data)
	}
	if _, _, err := db.EncryptionState(); err != nil {
		t.Errorf("State lost in compaction: %v", err)
	}
}

func TestPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.moodlock")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	id, _ := db.AccountID()
	if err := db.PutRecord("moods", "m1", json.RawMessage(`"data"`)); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}
	db.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	if again, _ := db2.AccountID(); again != id {
		t.Errorf("Account id not persisted: got %s, want %s", again, id)
	}
	rec, err := db2.GetRecord("moods", "m1")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if string(rec.Data) != `"data"` {
		t.Error("Record not persisted correctly")
	}
}

func TestInitializeAccount(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.moodlock"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.InitializeAccount(""); err == nil {
		t.Fatal("expected error for empty account id")
	}
	if err := db.InitializeAccount("acct-remote"); err != nil {
		t.Fatalf("InitializeAccount failed: %v", err)
	}
	// A second initialization keeps the first id.
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	id, err := db.AccountID()
	if err != nil {
		t.Fatalf("AccountID failed: %v", err)
	}
	if id != "acct-remote" {
		t.Errorf("expected acct-remote, got %q", id)
	}
}
