package pebble

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// bucketSep terminates the bucket prefix of every key. Bucket names must not
// contain it.
const bucketSep = 0x00

// Store implements store.Store on top of a pebble LSM. Buckets are emulated
// with a "<bucket>\x00" key prefix.
type Store struct {
	db *pebble.DB
}

// Open creates or opens a pebble database in the directory at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(dataKey(bucket, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = closer.Close() }()
	val := make([]byte, len(v))
	copy(val, v)
	return val, nil
}

func (s *Store) forEach(bucket []byte, fn func(key, value []byte) error) error {
	lower, upper := bounds(bucket)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("creating iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key()[len(lower):], iter.Value()); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
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

// Replace range-deletes each listed bucket and writes the new contents in a
// single synced batch. Sets follow the range delete inside the batch, so they
// carry higher sequence numbers and survive it.
func (s *Store) Replace(buckets map[string]map[string][]byte) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	for name, contents := range buckets {
		lower, upper := bounds([]byte(name))
		if err := batch.DeleteRange(lower, upper, nil); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		for k, v := range contents {
			if err := batch.Set(dataKey([]byte(name), []byte(k)), v, nil); err != nil {
				return fmt.Errorf("writing %s/%s: %w", name, k, err)
			}
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func dataKey(bucket, key []byte) []byte {
	k := make([]byte, 0, len(bucket)+1+len(key))
	k = append(k, bucket...)
	k = append(k, bucketSep)
	return append(k, key...)
}

func bounds(bucket []byte) (lower, upper []byte) {
	lower = make([]byte, 0, len(bucket)+1)
	lower = append(lower, bucket...)
	lower = append(lower, bucketSep)
	upper = make([]byte, 0, len(bucket)+1)
	upper = append(upper, bucket...)
	upper = append(upper, bucketSep+1)
	return lower, upper
}
