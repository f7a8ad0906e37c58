package kv

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"tamperkv/internal/hasher"
)

// Wire field numbers of an encoded entry.
const (
	fieldData protowire.Number = 1
	fieldHash protowire.Number = 2
)

var ErrMalformedEntry = errors.New("malformed entry")

// MarshalEntry encodes e as a protobuf message {1: data, 2: hash}.
func MarshalEntry(e Entry) []byte {
	b := make([]byte, 0, len(e.Data)+len(e.Hash)+8)
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendString(b, e.Data)
	b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
	b = protowire.AppendString(b, string(e.Hash))
	return b
}

// UnmarshalEntry decodes an entry written by MarshalEntry. Unknown fields
// are skipped.
func UnmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldData && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Entry{}, fmt.Errorf("%w: data: %v", ErrMalformedEntry, protowire.ParseError(m))
			}
			e.Data = v
			n = m
		case num == fieldHash && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Entry{}, fmt.Errorf("%w: hash: %v", ErrMalformedEntry, protowire.ParseError(m))
			}
			e.Hash = hasher.Digest(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: field %d: %v", ErrMalformedEntry, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return e, nil
}
