package bolt

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testBucket = []byte("entries")

// fill replaces bucket with the given string contents.
func fill(t *testing.T, s *Store, bucket []byte, contents map[string]string) {
	t.Helper()
	raw := make(map[string][]byte, len(contents))
	for k, v := range contents {
		raw[k] = []byte(v)
	}
	if err := s.Replace(map[string]map[string][]byte{string(bucket): raw}); err != nil {
		t.Fatal(err)
	}
}

func TestOpenClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// File should exist
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file should exist: %v", err)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Fatal("opening db in nonexistent dir should fail")
	}
}

func TestReplaceAndGet(t *testing.T) {
	s := tempStore(t)
	fill(t, s, testBucket, map[string]string{"key1": "val1"})

	val, err := s.Get(testBucket, []byte("key1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "val1" {
		t.Fatalf("expected val1, got %q", val)
	}
}

func TestGetNonexistentBucket(t *testing.T) {
	s := tempStore(t)
	val, err := s.Get([]byte("no-bucket"), []byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Fatalf("expected nil for nonexistent bucket, got %q", val)
	}
}

func TestGetNonexistentKey(t *testing.T) {
	s := tempStore(t)
	fill(t, s, testBucket, map[string]string{"other": "val"})
	val, err := s.Get(testBucket, []byte("missing"))
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Fatalf("expected nil for missing key, got %q", val)
	}
}

func TestSnapshot(t *testing.T) {
	s := tempStore(t)
	fill(t, s, testBucket, map[string]string{"x": "1", "y": "2"})

	snap, err := s.Snapshot(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if string(snap["x"]) != "1" || string(snap["y"]) != "2" {
		t.Fatalf("unexpected snapshot content: %v", snap)
	}
}

func TestSnapshotNonexistentBucket(t *testing.T) {
	s := tempStore(t)
	snap, err := s.Snapshot([]byte("no-bucket"))
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", len(snap))
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	s := tempStore(t)
	fill(t, s, testBucket, map[string]string{"k": "original"})

	snap, _ := s.Snapshot(testBucket)
	// Mutating the snapshot should not affect the store
	snap["k"][0] = 'X'

	val, _ := s.Get(testBucket, []byte("k"))
	if string(val) != "original" {
		t.Fatal("snapshot mutation should not affect store")
	}
}

func TestMultipleBuckets(t *testing.T) {
	s := tempStore(t)
	b1 := []byte("bucket1")
	b2 := []byte("bucket2")
	fill(t, s, b1, map[string]string{"k": "v1"})
	fill(t, s, b2, map[string]string{"k": "v2"})

	v1, _ := s.Get(b1, []byte("k"))
	v2, _ := s.Get(b2, []byte("k"))
	if string(v1) != "v1" || string(v2) != "v2" {
		t.Fatal("buckets should be isolated")
	}
}

func TestReplaceDiscardsOldKeys(t *testing.T) {
	s := tempStore(t)
	fill(t, s, testBucket, map[string]string{"stale": "x"})
	fill(t, s, testBucket, map[string]string{"a": "1", "b": "2"})

	snap, err := s.Snapshot(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries after replace, got %d: %v", len(snap), snap)
	}
	if _, ok := snap["stale"]; ok {
		t.Fatal("replace should drop keys not in the new contents")
	}
}

func TestReplaceLeavesOtherBuckets(t *testing.T) {
	s := tempStore(t)
	meta := []byte("meta")
	fill(t, s, meta, map[string]string{"k": "keep"})
	fill(t, s, testBucket, map[string]string{"a": "1"})

	v, _ := s.Get(meta, []byte("k"))
	if string(v) != "keep" {
		t.Fatalf("unlisted bucket modified: %q", v)
	}
}

func TestReplaceMultipleBuckets(t *testing.T) {
	s := tempStore(t)
	err := s.Replace(map[string]map[string][]byte{
		"entries": {"k": []byte("v")},
		"meta":    {"global_hash": []byte("abc")},
	})
	if err != nil {
		t.Fatal(err)
	}
	v1, _ := s.Get([]byte("entries"), []byte("k"))
	v2, _ := s.Get([]byte("meta"), []byte("global_hash"))
	if string(v1) != "v" || string(v2) != "abc" {
		t.Fatalf("unexpected contents: %q %q", v1, v2)
	}
}

func TestReplaceEmptyBucket(t *testing.T) {
	s := tempStore(t)
	fill(t, s, testBucket, map[string]string{"k": "v"})
	fill(t, s, testBucket, map[string]string{})

	snap, _ := s.Snapshot(testBucket)
	if len(snap) != 0 {
		t.Fatalf("expected empty bucket, got %v", snap)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	fill(t, s, []byte("entries"), map[string]string{"k": "v"})
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s2.Close() }()
	v, _ := s2.Get([]byte("entries"), []byte("k"))
	if string(v) != "v" {
		t.Fatalf("got %q after reopen, want v", v)
	}
}
