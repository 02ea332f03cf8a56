// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// DID is a validated decentralized identifier (e.g., "did:plc:ewvi7nxzyoun6zhxrhs64oiz").
//
// The structural format is "did:<method>:<method-specific-id>" with a
// lowercase method name. This type validates the structure but does
// NOT verify that the DID resolves — resolution is the identity
// package's concern.
//
// DID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type DID struct {
	id string
}

// ParseDID validates and wraps a raw DID string. Returns an error if
// the string is empty, lacks the "did:" prefix, has an empty or
// non-lowercase method, or has an empty method-specific identifier.
func ParseDID(raw string) (DID, error) {
	if raw == "" {
		return DID{}, fmt.Errorf("ref: empty DID")
	}
	method, specific, err := splitDID(raw)
	if err != nil {
		return DID{}, err
	}
	if method == "" {
		return DID{}, fmt.Errorf("ref: DID %q has an empty method", raw)
	}
	for i := 0; i < len(method); i++ {
		c := method[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return DID{}, fmt.Errorf("ref: DID %q method contains %q (lowercase letters and digits only)", raw, string(c))
		}
	}
	if specific == "" {
		return DID{}, fmt.Errorf("ref: DID %q has an empty method-specific identifier", raw)
	}
	for i := 0; i < len(specific); i++ {
		c := specific[i]
		if !didSpecificChars[c] {
			return DID{}, fmt.Errorf("ref: DID %q contains invalid character %q", raw, string(c))
		}
	}
	return DID{id: raw}, nil
}

// splitDID splits "did:<method>:<specific>" into its parts.
func splitDID(raw string) (method, specific string, err error) {
	rest, ok := strings.CutPrefix(raw, "did:")
	if !ok {
		return "", "", fmt.Errorf("ref: %q is not a DID (missing \"did:\" prefix)", raw)
	}
	method, specific, ok = strings.Cut(rest, ":")
	if !ok {
		return "", "", fmt.Errorf("ref: DID %q is missing the method-specific identifier", raw)
	}
	return method, specific, nil
}

// didSpecificChars is the set of characters permitted in the
// method-specific identifier: letters, digits, and . _ : % -.
var didSpecificChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		didSpecificChars[c] = true
	}
	for c := byte('A'); c <= 'Z'; c++ {
		didSpecificChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		didSpecificChars[c] = true
	}
	didSpecificChars['.'] = true
	didSpecificChars['_'] = true
	didSpecificChars[':'] = true
	didSpecificChars['%'] = true
	didSpecificChars['-'] = true
}

// String returns the full DID string.
func (d DID) String() string { return d.id }

// IsZero reports whether the DID is the zero value (uninitialized).
func (d DID) IsZero() bool { return d.id == "" }

// Method returns the DID method name (e.g., "plc", "web"). Panics if
// called on a zero-value DID.
func (d DID) Method() string {
	if d.id == "" {
		panic("DID.Method called on zero value")
	}
	method, _, err := splitDID(d.id)
	if err != nil {
		// DID was validated at construction — this is unreachable.
		panic(fmt.Sprintf("DID.Method: internal error parsing %q: %v", d.id, err))
	}
	return method
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (d DID) MarshalText() ([]byte, error) {
	if d.id == "" {
		return []byte{}, nil
	}
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// DID format. An empty input produces the zero value (unset DID).
func (d *DID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = DID{}
		return nil
	}
	parsed, err := ParseDID(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
