// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// Handle is a validated AT Protocol handle (e.g., "alice.bsky.social").
//
// A handle is a hostname: two or more dot-separated labels of letters,
// digits, and hyphens, where no label starts or ends with a hyphen and
// the final label (the TLD) starts with a letter. Validation is
// structural only — whether the handle currently resolves to a DID is
// the identity package's concern.
//
// Handle is an immutable value type. The zero value is not valid; use
// IsZero to check.
type Handle struct {
	handle string
}

// maxHandleLength is the overall handle length limit from the AT
// Protocol handle syntax (a hostname limit).
const maxHandleLength = 253

// ParseHandle validates and wraps a raw handle string. The handle is
// lowercased — handles are case-insensitive and the canonical form is
// lowercase.
func ParseHandle(raw string) (Handle, error) {
	if raw == "" {
		return Handle{}, fmt.Errorf("ref: empty handle")
	}
	lowered := strings.ToLower(raw)
	if len(lowered) > maxHandleLength {
		return Handle{}, fmt.Errorf("ref: handle %q exceeds %d characters", raw, maxHandleLength)
	}
	labels := strings.Split(lowered, ".")
	if len(labels) < 2 {
		return Handle{}, fmt.Errorf("ref: handle %q must have at least two dot-separated labels", raw)
	}
	for _, label := range labels {
		if err := validateHandleLabel(label); err != nil {
			return Handle{}, fmt.Errorf("ref: handle %q: %w", raw, err)
		}
	}
	tld := labels[len(labels)-1]
	if tld[0] >= '0' && tld[0] <= '9' {
		return Handle{}, fmt.Errorf("ref: handle %q has a numeric top-level label", raw)
	}
	return Handle{handle: lowered}, nil
}

func validateHandleLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q exceeds 63 characters", label)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		valid := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-'
		if !valid {
			return fmt.Errorf("label %q contains invalid character %q", label, string(c))
		}
	}
	return nil
}

// String returns the canonical (lowercase) handle string.
func (h Handle) String() string { return h.handle }

// IsZero reports whether the Handle is the zero value (uninitialized).
func (h Handle) IsZero() bool { return h.handle == "" }

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	if h.handle == "" {
		return []byte{}, nil
	}
	return []byte(h.handle), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// handle format. An empty input produces the zero value.
func (h *Handle) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*h = Handle{}
		return nil
	}
	parsed, err := ParseHandle(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
