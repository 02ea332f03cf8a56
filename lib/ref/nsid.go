// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// NSID is a validated namespaced identifier naming a record collection
// (e.g., "app.atdrop.signal.offer"). The format is reverse-domain:
// at least three dot-separated segments, where the leading segments
// form a domain authority and the final segment names the record type.
//
// NSID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type NSID struct {
	nsid string
}

// MustNSID wraps a compile-time constant NSID, panicking on invalid
// input. Use only for package-level collection constants; parse
// runtime input with ParseNSID.
func MustNSID(raw string) NSID {
	nsid, err := ParseNSID(raw)
	if err != nil {
		panic(err)
	}
	return nsid
}

// ParseNSID validates and wraps a raw NSID string.
func ParseNSID(raw string) (NSID, error) {
	if raw == "" {
		return NSID{}, fmt.Errorf("ref: empty NSID")
	}
	if len(raw) > 317 {
		return NSID{}, fmt.Errorf("ref: NSID %q exceeds 317 characters", raw)
	}
	segments := strings.Split(raw, ".")
	if len(segments) < 3 {
		return NSID{}, fmt.Errorf("ref: NSID %q must have at least three segments", raw)
	}
	for index, segment := range segments {
		if segment == "" {
			return NSID{}, fmt.Errorf("ref: NSID %q has an empty segment", raw)
		}
		if len(segment) > 63 {
			return NSID{}, fmt.Errorf("ref: NSID %q segment %q exceeds 63 characters", raw, segment)
		}
		if segment[0] >= '0' && segment[0] <= '9' {
			return NSID{}, fmt.Errorf("ref: NSID %q segment %q starts with a digit", raw, segment)
		}
		// The name segment (last) is letters only; authority segments
		// additionally allow digits and interior hyphens.
		last := index == len(segments)-1
		if segment[0] == '-' || segment[len(segment)-1] == '-' {
			return NSID{}, fmt.Errorf("ref: NSID %q segment %q starts or ends with a hyphen", raw, segment)
		}
		for i := 0; i < len(segment); i++ {
			c := segment[i]
			letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			digit := c >= '0' && c <= '9'
			switch {
			case letter:
			case !last && (digit || c == '-'):
			default:
				return NSID{}, fmt.Errorf("ref: NSID %q segment %q contains invalid character %q", raw, segment, string(c))
			}
		}
	}
	return NSID{nsid: raw}, nil
}

// String returns the full NSID string.
func (n NSID) String() string { return n.nsid }

// IsZero reports whether the NSID is the zero value (uninitialized).
func (n NSID) IsZero() bool { return n.nsid == "" }

// MarshalText implements encoding.TextMarshaler.
func (n NSID) MarshalText() ([]byte, error) {
	if n.nsid == "" {
		return []byte{}, nil
	}
	return []byte(n.nsid), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// NSID format. An empty input produces the zero value.
func (n *NSID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*n = NSID{}
		return nil
	}
	parsed, err := ParseNSID(string(data))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
