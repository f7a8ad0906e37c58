package kv

import (
	"bytes"
	"errors"
	"testing"

	"tamperkv/internal/hasher"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestCanonicalSortedKeys(t *testing.T) {
	e := Entries{
		"b": {Data: "2", Hash: "h2"},
		"a": {Data: "1", Hash: "h1"},
	}
	want := `{"a":{"data":"1","hash":"h1"},"b":{"data":"2","hash":"h2"}}`
	if got := string(e.Canonical()); got != want {
		t.Fatalf("Canonical() = %s, want %s", got, want)
	}
}

func TestCanonicalNil(t *testing.T) {
	var e Entries
	if got := string(e.Canonical()); got != "{}" {
		t.Fatalf("Canonical() = %s, want {}", got)
	}
	if got := string(Entries{}.Canonical()); got != "{}" {
		t.Fatalf("Canonical() on empty = %s, want {}", got)
	}
}

func TestDigestIgnoresInsertionOrder(t *testing.T) {
	h := hasher.Default()
	a := make(Entries)
	a["x"] = NewEntry(h, "1")
	a["y"] = NewEntry(h, "2")
	b := make(Entries)
	b["y"] = NewEntry(h, "2")
	b["x"] = NewEntry(h, "1")
	if a.Digest(h) != b.Digest(h) {
		t.Fatal("digest depends on insertion order")
	}
}

func TestEntryValid(t *testing.T) {
	h := hasher.Default()
	e := NewEntry(h, "Hello world")
	if !e.Valid(h) {
		t.Fatal("fresh entry should be valid")
	}
	e.Data = "Hello World"
	if e.Valid(h) {
		t.Fatal("tampered entry should not be valid")
	}
}

func TestDatabaseSeal(t *testing.T) {
	h := hasher.Default()
	db := New("id", h.Name())
	db.Entries["k"] = NewEntry(h, "v")
	if db.Sealed(h) {
		t.Fatal("unsealed database reported sealed")
	}
	db.Seal(h)
	if !db.Sealed(h) {
		t.Fatal("sealed database reported unsealed")
	}
	if db.GlobalHash != h.Sum(db.Entries.Canonical()) {
		t.Fatal("GlobalHash not computed over canonical entries")
	}
}

func TestDatabaseCloneIsDeep(t *testing.T) {
	h := hasher.Default()
	db := New("id", h.Name())
	db.Entries["k"] = NewEntry(h, "v")
	cp := db.Clone()
	cp.Entries["k"] = NewEntry(h, "changed")
	cp.Entries["other"] = NewEntry(h, "x")
	if db.Entries["k"].Data != "v" || len(db.Entries) != 1 {
		t.Fatal("mutating clone affected original")
	}
}


func TestKeysSorted(t *testing.T) {
	e := Entries{"c": {}, "a": {}, "b": {}}
	got := e.Keys()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Keys() = %v", got)
	}
}

func TestEntryCodecRoundTrip(t *testing.T) {
	tests := []Entry{
		{Data: "Hello world", Hash: "64ec88ca00b268e5ba1a35678a1b5316d212f4f366b2477232534a8aeca37f3c"},
		{Data: "", Hash: ""},
		{Data: "multi\nline\x00binary", Hash: "abc"},
	}
	for _, want := range tests {
		got, err := UnmarshalEntry(MarshalEntry(want))
		if err != nil {
			t.Fatalf("UnmarshalEntry(%q): %v", want.Data, err)
		}
		if got != want {
			t.Fatalf("round trip: got %+v, want %+v", got, want)
		}
	}
}

func TestUnmarshalEntrySkipsUnknownFields(t *testing.T) {
	b := MarshalEntry(Entry{Data: "v", Hash: "h"})
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	e, err := UnmarshalEntry(b)
	if err != nil {
		t.Fatal(err)
	}
	if e.Data != "v" || e.Hash != "h" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestUnmarshalEntryTruncated(t *testing.T) {
	b := MarshalEntry(Entry{Data: "some value", Hash: "h"})
	_, err := UnmarshalEntry(b[:5])
	if !errors.Is(err, ErrMalformedEntry) {
		t.Fatalf("expected ErrMalformedEntry, got %v", err)
	}
}

func TestMarshalEntryStable(t *testing.T) {
	e := Entry{Data: "v", Hash: "h"}
	if !bytes.Equal(MarshalEntry(e), MarshalEntry(e)) {
		t.Fatal("encoding is not deterministic")
	}
}
