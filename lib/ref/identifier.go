// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// AtIdentifier is either a DID or a handle — the two forms a user may
// type wherever the protocol asks for an account. Exactly one of the
// two underlying values is set.
//
// AtIdentifier is an immutable value type. The zero value is not
// valid; use IsZero to check.
type AtIdentifier struct {
	did    DID
	handle Handle
}

// ParseAtIdentifier validates a raw string as either a DID (when it
// has the "did:" prefix) or a handle (otherwise).
func ParseAtIdentifier(raw string) (AtIdentifier, error) {
	if raw == "" {
		return AtIdentifier{}, fmt.Errorf("ref: empty identifier")
	}
	if strings.HasPrefix(raw, "did:") {
		did, err := ParseDID(raw)
		if err != nil {
			return AtIdentifier{}, err
		}
		return AtIdentifier{did: did}, nil
	}
	handle, err := ParseHandle(raw)
	if err != nil {
		return AtIdentifier{}, err
	}
	return AtIdentifier{handle: handle}, nil
}

// IdentifierFromDID wraps an existing DID as an AtIdentifier.
func IdentifierFromDID(did DID) AtIdentifier {
	return AtIdentifier{did: did}
}

// IsDID reports whether the identifier holds a DID (as opposed to a
// handle).
func (a AtIdentifier) IsDID() bool { return !a.did.IsZero() }

// DID returns the underlying DID. Panics if the identifier holds a
// handle — check IsDID first.
func (a AtIdentifier) DID() DID {
	if a.did.IsZero() {
		panic("AtIdentifier.DID called on a handle identifier")
	}
	return a.did
}

// Handle returns the underlying handle. Panics if the identifier
// holds a DID — check IsDID first.
func (a AtIdentifier) Handle() Handle {
	if a.handle.IsZero() {
		panic("AtIdentifier.Handle called on a DID identifier")
	}
	return a.handle
}

// String returns the identifier in the form the user supplied it
// (canonical DID or lowercase handle).
func (a AtIdentifier) String() string {
	if !a.did.IsZero() {
		return a.did.String()
	}
	return a.handle.String()
}

// IsZero reports whether the identifier is the zero value.
func (a AtIdentifier) IsZero() bool {
	return a.did.IsZero() && a.handle.IsZero()
}
