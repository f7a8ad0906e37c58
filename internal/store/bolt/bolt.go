package bolt

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

// Store implements store.Store using bbolt (embedded B+ tree).
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at the given path. A second process
// holding the file lock makes Open fail after a short timeout instead of
// blocking forever.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	return val, err
}

func (s *Store) forEach(bucket []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(fn)
	})
}

func (s *Store) Snapshot(bucket []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.forEach(bucket, func(k, v []byte) error {
		val := make([]byte, len(v))
		copy(val, v)
		result[string(k)] = val
		return nil
	})
	return result, err
}

// Replace drops and recreates every listed bucket inside one write
// transaction, so readers see either the old or the new contents.
func (s *Store) Replace(buckets map[string]map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for name, contents := range buckets {
			err := tx.DeleteBucket([]byte(name))
			if err != nil && !errors.Is(err, bolterrors.ErrBucketNotFound) {
				return fmt.Errorf("dropping bucket %s: %w", name, err)
			}
			b, err := tx.CreateBucket([]byte(name))
			if err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
			for k, v := range contents {
				if err := b.Put([]byte(k), v); err != nil {
					return fmt.Errorf("writing %s/%s: %w", name, k, err)
				}
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
