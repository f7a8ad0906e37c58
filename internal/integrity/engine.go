// Package integrity implements the tamper-evident store: per-entry digests,
// a global digest over the whole mapping, recovery from the backup mirror and
// the snapshot verification protocol.
package integrity

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tamperkv/internal/hasher"
	"tamperkv/internal/kv"
	"tamperkv/internal/logging"
	"tamperkv/internal/persist"
)

var logger = logging.For("integrity")

// Seed entry written when no persisted state exists.
const (
	DefaultSeedKey   = "key1"
	DefaultSeedValue = "Hello world"
)

// GetResult is the outcome of Get. Data and OriginalData are nil when the
// key does not exist.
type GetResult struct {
	Success       bool    `json:"success"`
	Data          *string `json:"data"`
	Error         string  `json:"error"`
	Kind          Kind    `json:"kind,omitempty"`
	RecoveredData bool    `json:"recoveredData"`
	OriginalData  *string `json:"originalData"`
}

// Err returns the sentinel error matching r.Kind, or nil on success.
func (r GetResult) Err() error {
	return r.Kind.Err()
}

// Options tunes Open.
type Options struct {
	SeedKey   string
	SeedValue string
	// Now stamps UpdatedAt on every write. Defaults to time.Now.
	Now func() time.Time
}

// Engine owns the in-memory database and its two durable copies. All
// methods are safe for concurrent use; anything that may write takes the
// exclusive lock.
type Engine struct {
	mu      sync.RWMutex
	db      *kv.Database
	primary *persist.Mapping
	backup  *persist.Mapping
	h       *hasher.Hasher
	now     func() time.Time
}

// Open loads the primary database, or seeds a fresh one when none exists.
// On success the engine owns both mappings and closes them in Close; on
// error they are left open for the caller.
func Open(primary, backup *persist.Mapping, h *hasher.Hasher, opts Options) (*Engine, error) {
	if opts.SeedKey == "" {
		opts.SeedKey = DefaultSeedKey
	}
	if opts.SeedValue == "" {
		opts.SeedValue = DefaultSeedValue
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		primary: primary,
		backup:  backup,
		h:       h,
		now:     opts.Now,
	}

	db, err := primary.Load()
	switch {
	case err == nil:
		if err := e.checkAlgorithm(db); err != nil {
			return nil, err
		}
		if !db.Sealed(h) {
			logger.Warn("global digest does not match loaded entries", "global_hash", db.GlobalHash)
		}
		e.db = db
		logger.Info("loaded database", "store_id", db.StoreID, "entries", len(db.Entries))
		return e, nil
	case errors.Is(err, persist.ErrNotFound):
		logger.Info("no persisted state, seeding database")
	default:
		logger.Warn("unreadable primary database, seeding a fresh one", "err", err)
	}

	db = kv.New(uuid.NewString(), h.Name())
	db.Entries[opts.SeedKey] = kv.NewEntry(h, opts.SeedValue)
	db.Seal(h)
	if err := e.seed(db); err != nil {
		return nil, err
	}
	e.db = db
	logger.Info("seeded database", "store_id", db.StoreID, "seed_key", opts.SeedKey)
	return e, nil
}

// seed writes a freshly seeded database. A backup that still holds a previous
// database is left as is until the next Set mirrors over it.
func (e *Engine) seed(db *kv.Database) error {
	prev, err := e.backup.Load()
	switch {
	case err == nil:
		db.UpdatedAt = e.now()
		if err := e.primary.Write(db); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		logger.Error("primary reseeded while the backup holds a previous database; backup left untouched until the next write",
			"backup_store_id", prev.StoreID, "backup_entries", len(prev.Entries))
		return nil
	case errors.Is(err, persist.ErrNotFound):
	default:
		logger.Warn("unreadable backup database, overwriting it", "err", err)
	}
	return e.commit(db)
}

func (e *Engine) checkAlgorithm(db *kv.Database) error {
	if db.Algorithm != "" && db.Algorithm != e.h.Name() {
		return fmt.Errorf("%w: database uses %s, configured %s", ErrAlgorithmMismatch, db.Algorithm, e.h.Name())
	}
	return nil
}

// Keys and values must be valid UTF-8 for the canonical JSON encoding to be
// byte-exact.
func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key %q is not valid UTF-8", ErrInvalidKey, key)
	}
	return nil
}

func checkValue(key, value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: value of %q is not valid UTF-8", ErrInvalidValue, key)
	}
	return nil
}

// Set stores value under key and returns the entry digest. The primary is
// written first and the backup mirrored right after. A failed primary write
// leaves the in-memory state unchanged.
func (e *Engine) Set(key, value string) (hasher.Digest, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if err := checkValue(key, value); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.db.Clone()
	entry := kv.NewEntry(e.h, value)
	next.Entries[key] = entry
	next.Seal(e.h)

	next.UpdatedAt = e.now()
	if err := e.primary.Write(next); err != nil {
		logger.Error("persist failed", "key", key, "err", err)
		return "", fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	e.db = next
	if err := e.backup.Write(e.mirror(next)); err != nil {
		logger.Error("backup mirror failed", "key", key, "err", err)
		return "", fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	logger.Debug("entry set", "key", key, "hash", entry.Hash)
	return entry.Hash, nil
}

// Get returns the value stored under key after checking its digest. On a
// mismatch it attempts recovery from the backup; the returned error is
// non-nil only when a successful recovery could not be persisted.
func (e *Engine) Get(key string) (GetResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.db.Entries[key]
	if !ok {
		return GetResult{
			Error: ErrKeyNotFound.Error(),
			Kind:  KindKeyNotFound,
		}, nil
	}
	if entry.Valid(e.h) {
		data := entry.Data
		return GetResult{Success: true, Data: &data}, nil
	}

	tampered := entry.Data
	logger.Warn("tamper detected", "key", key, "recorded_hash", entry.Hash)

	recovered, err := e.recover(key)
	if !recovered {
		empty := ""
		return GetResult{
			Data:          &tampered,
			Error:         ErrTamperedUnrecoverable.Error(),
			Kind:          KindTamperedUnrecoverable,
			RecoveredData: true,
			OriginalData:  &empty,
		}, err
	}
	original := e.db.Entries[key].Data
	return GetResult{
		Data:          &tampered,
		Error:         ErrTampered.Error(),
		Kind:          KindTampered,
		RecoveredData: true,
		OriginalData:  &original,
	}, err
}

// List returns a copy of all entries. The global digest is not part of it.
func (e *Engine) List() kv.Entries {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.db.Entries.Clone()
}

// GlobalHash returns the recorded digest over all entries.
func (e *Engine) GlobalHash() hasher.Digest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.db.GlobalHash
}

// StoreID returns the identifier assigned when the database was seeded.
func (e *Engine) StoreID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.db.StoreID
}

// Hasher returns the digest function in use.
func (e *Engine) Hasher() *hasher.Hasher {
	return e.h
}

// Reload replaces the in-memory database with the persisted primary. Use it
// after the files were touched by something other than this engine. A primary
// written with another hash algorithm is rejected and the current state kept.
func (e *Engine) Reload() error {
	db, err := e.primary.Load()
	if err != nil {
		return fmt.Errorf("reloading primary: %w", err)
	}
	if err := e.checkAlgorithm(db); err != nil {
		return err
	}
	e.mu.Lock()
	e.db = db
	e.mu.Unlock()
	logger.Info("reloaded database", "entries", len(db.Entries))
	return nil
}

// Close closes both durable copies.
func (e *Engine) Close() error {
	return errors.Join(e.primary.Close(), e.backup.Close())
}

// recover replaces the in-memory entry for key with the backup's copy if the
// backup copy is self-consistent. Backup read errors count as "not
// recoverable". A repaired entry is written back to the primary; if that
// write fails the repair stays in memory and the error is returned.
// Callers hold e.mu.
func (e *Engine) recover(key string) (bool, error) {
	b, ok, err := e.backup.Lookup(key)
	if err != nil {
		logger.Warn("backup lookup failed", "key", key, "err", err)
		return false, nil
	}
	if !ok {
		return false, nil
	}
	if !b.Valid(e.h) {
		logger.Warn("backup entry is inconsistent", "key", key)
		return false, nil
	}
	if cur, ok := e.db.Entries[key]; ok && cur == b {
		return true, nil
	}

	next := e.db.Clone()
	next.Entries[key] = b
	next.Seal(e.h)
	next.UpdatedAt = e.now()
	e.db = next
	logger.Info("entry recovered from backup", "key", key)

	if err := e.primary.Write(next); err != nil {
		logger.Error("persisting recovered entry failed", "key", key, "err", err)
		return true, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return true, nil
}

// commit writes db to the primary and then mirrors it to the backup.
func (e *Engine) commit(db *kv.Database) error {
	db.UpdatedAt = e.now()
	if err := e.primary.Write(db); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	if err := e.backup.Write(e.mirror(db)); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// mirror returns the database to write to the backup. Entries that fail their
// digest check keep the backup's current copy when that copy is intact, so a
// write never propagates tampering into the mirror.
func (e *Engine) mirror(db *kv.Database) *kv.Database {
	var out *kv.Database
	for key, entry := range db.Entries {
		if entry.Valid(e.h) {
			continue
		}
		b, ok, err := e.backup.Lookup(key)
		if err != nil || !ok || !b.Valid(e.h) {
			continue
		}
		if out == nil {
			out = db.Clone()
		}
		out.Entries[key] = b
		logger.Warn("tampered entry not mirrored, backup copy kept", "key", key)
	}
	if out == nil {
		return db
	}
	out.Seal(e.h)
	return out
}
