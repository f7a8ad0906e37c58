// Package persist maps a kv.Database onto a bucketed store.Store. The same
// type serves as the primary store and as the backup mirror.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tamperkv/internal/hasher"
	"tamperkv/internal/kv"
	"tamperkv/internal/logging"
	"tamperkv/internal/store"
)

// Roles.
const (
	RolePrimary = "primary"
	RoleBackup  = "backup"
)

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")
)

// Keys of the meta bucket.
const (
	metaGlobalHash = "global_hash"
	metaStoreID    = "store_id"
	metaAlgorithm  = "hash_algorithm"
	metaUpdatedAt  = "updated_at"
)

// ErrNotFound is returned by Load when the store holds no database yet.
var ErrNotFound = errors.New("no persisted state")

// Mapping is one durable copy of the database.
type Mapping struct {
	st     store.Store
	role   string
	logger *slog.Logger
}

// New wraps st. role is used for logging and error messages only.
func New(st store.Store, role string) *Mapping {
	return &Mapping{
		st:     st,
		role:   role,
		logger: logging.For("persist").With("role", role),
	}
}

// Load reads the whole database. It returns ErrNotFound if nothing was ever
// written. An entry that fails to decode is kept with its raw bytes as data
// and an empty hash, so integrity checks report it as tampered instead of
// dropping the key.
func (m *Mapping) Load() (*kv.Database, error) {
	meta, err := m.st.Snapshot(metaBucket)
	if err != nil {
		return nil, fmt.Errorf("reading %s metadata: %w", m.role, err)
	}
	raw, err := m.st.Snapshot(entriesBucket)
	if err != nil {
		return nil, fmt.Errorf("reading %s entries: %w", m.role, err)
	}
	if len(meta) == 0 && len(raw) == 0 {
		return nil, ErrNotFound
	}

	db := kv.New(string(meta[metaStoreID]), string(meta[metaAlgorithm]))
	db.GlobalHash = hasher.Digest(meta[metaGlobalHash])
	if ts, ok := meta[metaUpdatedAt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, string(ts)); err == nil {
			db.UpdatedAt = t
		}
	}
	for key, value := range raw {
		e, err := kv.UnmarshalEntry(value)
		if err != nil {
			m.logger.Warn("undecodable entry kept as tampered", "key", key, "err", err)
			e = kv.Entry{Data: string(value)}
		}
		db.Entries[key] = e
	}
	return db, nil
}

// Lookup returns a single entry without loading the whole database.
func (m *Mapping) Lookup(key string) (kv.Entry, bool, error) {
	v, err := m.st.Get(entriesBucket, []byte(key))
	if err != nil {
		return kv.Entry{}, false, fmt.Errorf("reading %s entry %q: %w", m.role, key, err)
	}
	if v == nil {
		return kv.Entry{}, false, nil
	}
	e, err := kv.UnmarshalEntry(v)
	if err != nil {
		return kv.Entry{}, false, fmt.Errorf("decoding %s entry %q: %w", m.role, key, err)
	}
	return e, true, nil
}

// Write overwrites the entire persisted database in one transaction.
func (m *Mapping) Write(db *kv.Database) error {
	entries := make(map[string][]byte, len(db.Entries))
	for key, e := range db.Entries {
		entries[key] = kv.MarshalEntry(e)
	}
	meta := map[string][]byte{
		metaGlobalHash: []byte(db.GlobalHash),
		metaStoreID:    []byte(db.StoreID),
		metaAlgorithm:  []byte(db.Algorithm),
	}
	if !db.UpdatedAt.IsZero() {
		meta[metaUpdatedAt] = []byte(db.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}

	err := m.st.Replace(map[string]map[string][]byte{
		string(entriesBucket): entries,
		string(metaBucket):    meta,
	})
	if err != nil {
		return fmt.Errorf("writing %s database: %w", m.role, err)
	}
	m.logger.Debug("database written", "entries", len(entries), "global_hash", db.GlobalHash)
	return nil
}

// Close closes the underlying store.
func (m *Mapping) Close() error {
	return m.st.Close()
}
