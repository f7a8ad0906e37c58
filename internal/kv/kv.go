// Package kv holds the data model shared by the persistence layer and the
// integrity engine: hashed entries, the key→entry mapping, and the database
// envelope that carries the global digest next to (never inside) the mapping.
package kv

import (
	"encoding/json"
	"sort"
	"time"

	"tamperkv/internal/hasher"
)

// Entry is a stored value paired with its expected digest.
type Entry struct {
	Data string        `json:"data"`
	Hash hasher.Digest `json:"hash"`
}

// NewEntry returns an entry whose hash is computed from value.
func NewEntry(h *hasher.Hasher, value string) Entry {
	return Entry{Data: value, Hash: h.SumString(value)}
}

// Valid reports whether the recorded hash matches the digest of the data.
func (e Entry) Valid(h *hasher.Hasher) bool {
	return h.SumString(e.Data) == e.Hash
}

// Entries maps keys to entries.
type Entries map[string]Entry

// Clone returns a copy that shares nothing with e.
func (e Entries) Clone() Entries {
	out := make(Entries, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (e Entries) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Canonical returns the serialization the global digest is computed over:
// a JSON object with keys in sorted order. A nil mapping encodes as {}.
func (e Entries) Canonical() []byte {
	if e == nil {
		return []byte("{}")
	}
	// string fields only, Marshal cannot fail
	b, _ := json.Marshal(map[string]Entry(e))
	return b
}

// Digest returns the global digest of the mapping.
func (e Entries) Digest(h *hasher.Hasher) hasher.Digest {
	return h.Sum(e.Canonical())
}

// Database is the full persisted state: the mapping, its global digest and
// some bookkeeping metadata. GlobalHash is never part of the hashed value.
type Database struct {
	Entries    Entries
	GlobalHash hasher.Digest
	StoreID    string
	Algorithm  string
	UpdatedAt  time.Time
}

// New returns an empty database.
func New(storeID, algorithm string) *Database {
	return &Database{
		Entries:   make(Entries),
		StoreID:   storeID,
		Algorithm: algorithm,
	}
}

// Clone returns a deep copy of db.
func (db *Database) Clone() *Database {
	cp := *db
	cp.Entries = db.Entries.Clone()
	return &cp
}

// Seal recomputes GlobalHash over the current entries.
func (db *Database) Seal(h *hasher.Hasher) {
	db.GlobalHash = db.Entries.Digest(h)
}

// Sealed reports whether GlobalHash matches the current entries.
func (db *Database) Sealed(h *hasher.Hasher) bool {
	return db.GlobalHash == db.Entries.Digest(h)
}
