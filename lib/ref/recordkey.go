// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RecordKey is a validated record key (rkey) locating a record within
// a collection. Atdrop uses random UUID record keys as session keys,
// but any syntactically valid rkey is accepted: 1–512 characters from
// [A-Za-z0-9._:~-], excluding the literal "." and "..".
//
// RecordKey is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RecordKey struct {
	rkey string
}

// ParseRecordKey validates and wraps a raw record key string.
func ParseRecordKey(raw string) (RecordKey, error) {
	if raw == "" {
		return RecordKey{}, fmt.Errorf("ref: empty record key")
	}
	if len(raw) > 512 {
		return RecordKey{}, fmt.Errorf("ref: record key exceeds 512 characters")
	}
	if raw == "." || raw == ".." {
		return RecordKey{}, fmt.Errorf("ref: record key %q is reserved", raw)
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		valid := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '.' || c == '_' || c == ':' || c == '~' || c == '-'
		if !valid {
			return RecordKey{}, fmt.Errorf("ref: record key %q contains invalid character %q", raw, string(c))
		}
	}
	return RecordKey{rkey: raw}, nil
}

// String returns the record key string.
func (r RecordKey) String() string { return r.rkey }

// IsZero reports whether the RecordKey is the zero value.
func (r RecordKey) IsZero() bool { return r.rkey == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RecordKey) MarshalText() ([]byte, error) {
	if r.rkey == "" {
		return []byte{}, nil
	}
	return []byte(r.rkey), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// record key format. An empty input produces the zero value.
func (r *RecordKey) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RecordKey{}
		return nil
	}
	parsed, err := ParseRecordKey(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
