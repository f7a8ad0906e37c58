package store

// Store is an abstract key-value storage interface backed by buckets.
// The primary database and its backup each own one Store. bbolt is the
// default engine; pebble is available for the backup so that the mirror
// does not share a file format with the primary.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Snapshot(bucket []byte) (map[string][]byte, error)
	// Replace atomically discards the listed buckets and rewrites them with
	// the given contents. Buckets not listed are left untouched.
	Replace(buckets map[string]map[string][]byte) error
	Close() error
}
