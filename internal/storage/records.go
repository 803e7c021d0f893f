package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Record is a journal entry. Data is an envelope, or plain JSON for entries
// written before encryption was enabled.
type Record struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PutRecord stores data under resource/id, keeping the creation time of an existing entry
func (s *Storage) PutRecord(resource, id string, data json.RawMessage) error {
	if resource == "" || id == "" {
		return fmt.Errorf("resource and id are required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(RecordsBucket)
		if records == nil {
			return ErrNotInitialized
		}
		bucket, err := records.CreateBucketIfNotExists([]byte(resource))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", resource, err)
		}

		now := time.Now().UTC()
		rec := Record{ID: id, Data: data, CreatedAt: now, UpdatedAt: now}
		if prev := bucket.Get([]byte(id)); prev != nil {
			var old Record
			if err := json.Unmarshal(prev, &old); err == nil {
				rec.CreatedAt = old.CreatedAt
			}
		}

		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), value); err != nil {
			return err
		}
		return touch(tx)
	})
}

// GetRecord returns a single record
func (s *Storage) GetRecord(resource, id string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := resourceBucket(tx, resource)
		if bucket == nil {
			return fmt.Errorf("record %s/%s: %w", resource, id, ErrNotFound)
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %s/%s: %w", resource, id, ErrNotFound)
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// ListRecords returns all records of resource ordered by id
func (s *Storage) ListRecords(resource string) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := resourceBucket(tx, resource)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s/%s: %w", resource, k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// DeleteRecord removes a record
func (s *Storage) DeleteRecord(resource, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := resourceBucket(tx, resource)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("record %s/%s: %w", resource, id, ErrNotFound)
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		return touch(tx)
	})
}

// Resources returns the names of all resources with records
func (s *Storage) Resources() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(RecordsBucket)
		if records == nil {
			return nil
		}
		return records.ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// CountRecords returns the number of records per resource
func (s *Storage) CountRecords() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(RecordsBucket)
		if records == nil {
			return nil
		}
		return records.ForEachBucket(func(k []byte) error {
			counts[string(k)] = records.Bucket(k).Stats().KeyN
			return nil
		})
	})
	return counts, err
}

func resourceBucket(tx *bolt.Tx, resource string) *bolt.Bucket {
	records := tx.Bucket(RecordsBucket)
	if records == nil {
		return nil
	}
	return records.Bucket([]byte(resource))
}

func rewriteRecords(tx *bolt.Tx, rewrite RewriteFunc) error {
	records := tx.Bucket(RecordsBucket)
	if records == nil {
		return ErrNotInitialized
	}
	now := time.Now().UTC()

	return records.ForEachBucket(func(name []byte) error {
		bucket := records.Bucket(name)

		var updates [][2][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s/%s: %w", name, k, err)
			}
			data, err := rewrite(string(name), rec)
			if err != nil {
				return fmt.Errorf("record %s/%s: %w", name, k, err)
			}
			rec.Data = data
			rec.UpdatedAt = now
			value, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			updates = append(updates, [2][]byte{append([]byte(nil), k...), value})
			return nil
		})
		if err != nil {
			return err
		}

		// Writes are deferred until iteration is done; bbolt cursors don't tolerate them.
		for _, u := range updates {
			if err := bucket.Put(u[0], u[1]); err != nil {
				return err
			}
		}
		return nil
	})
}
