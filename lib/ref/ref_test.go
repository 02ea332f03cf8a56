// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseDID(t *testing.T) {
	valid := []string{
		"did:plc:ewvi7nxzyoun6zhxrhs64oiz",
		"did:web:example.com",
		"did:plc:aaa",
	}
	for _, raw := range valid {
		did, err := ParseDID(raw)
		if err != nil {
			t.Errorf("ParseDID(%q) failed: %v", raw, err)
			continue
		}
		if did.String() != raw {
			t.Errorf("ParseDID(%q).String() = %q", raw, did.String())
		}
	}

	invalid := []string{
		"",
		"plc:abc",
		"did:",
		"did:plc",
		"did:plc:",
		"did:PLC:abc",
		"did:plc:has space",
		"alice.bsky.social",
	}
	for _, raw := range invalid {
		if _, err := ParseDID(raw); err == nil {
			t.Errorf("ParseDID(%q) succeeded, want error", raw)
		}
	}
}

func TestDIDMethod(t *testing.T) {
	did, err := ParseDID("did:plc:ewvi7nxzyoun6zhxrhs64oiz")
	if err != nil {
		t.Fatalf("ParseDID failed: %v", err)
	}
	if method := did.Method(); method != "plc" {
		t.Errorf("Method() = %q, want %q", method, "plc")
	}
}

func TestParseHandle(t *testing.T) {
	cases := []struct {
		raw  string
		want string // canonical form; empty means parse must fail
	}{
		{"alice.bsky.social", "alice.bsky.social"},
		{"Alice.Bsky.Social", "alice.bsky.social"},
		{"a-b.example.com", "a-b.example.com"},
		{"", ""},
		{"alice", ""},
		{"-alice.example.com", ""},
		{"alice-.example.com", ""},
		{"alice.example.1com", ""},
		{"al ice.example.com", ""},
	}
	for _, tc := range cases {
		handle, err := ParseHandle(tc.raw)
		if tc.want == "" {
			if err == nil {
				t.Errorf("ParseHandle(%q) succeeded, want error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHandle(%q) failed: %v", tc.raw, err)
			continue
		}
		if handle.String() != tc.want {
			t.Errorf("ParseHandle(%q) = %q, want %q", tc.raw, handle.String(), tc.want)
		}
	}
}

func TestParseAtIdentifier(t *testing.T) {
	id, err := ParseAtIdentifier("did:plc:abc123")
	if err != nil {
		t.Fatalf("ParseAtIdentifier(DID) failed: %v", err)
	}
	if !id.IsDID() {
		t.Error("expected DID identifier")
	}
	if id.DID().String() != "did:plc:abc123" {
		t.Errorf("DID() = %q", id.DID().String())
	}

	id, err = ParseAtIdentifier("bob.example.com")
	if err != nil {
		t.Fatalf("ParseAtIdentifier(handle) failed: %v", err)
	}
	if id.IsDID() {
		t.Error("expected handle identifier")
	}
	if id.Handle().String() != "bob.example.com" {
		t.Errorf("Handle() = %q", id.Handle().String())
	}

	if _, err := ParseAtIdentifier("did:bad"); err == nil {
		t.Error("ParseAtIdentifier(malformed DID) succeeded, want error")
	}
}

func TestParseNSID(t *testing.T) {
	valid := []string{
		"app.atdrop.signal.offer",
		"com.atproto.repo.putRecord",
		"app.bsky.feed.post",
	}
	for _, raw := range valid {
		if _, err := ParseNSID(raw); err != nil {
			t.Errorf("ParseNSID(%q) failed: %v", raw, err)
		}
	}

	invalid := []string{
		"",
		"offer",
		"app.offer",
		"app..offer",
		"app.1tdrop.offer",
		"app.atdrop.off3r", // digits not allowed in the name segment
	}
	for _, raw := range invalid {
		if _, err := ParseNSID(raw); err == nil {
			t.Errorf("ParseNSID(%q) succeeded, want error", raw)
		}
	}
}

func TestParseRecordKey(t *testing.T) {
	valid := []string{
		"3jzfcijpj2z2a",
		"f6f733fa-40a4-4ca2-85a7-3a6f2f1b10fd",
		"self",
		"a",
	}
	for _, raw := range valid {
		if _, err := ParseRecordKey(raw); err != nil {
			t.Errorf("ParseRecordKey(%q) failed: %v", raw, err)
		}
	}

	invalid := []string{"", ".", "..", "has space", "sla/sh"}
	for _, raw := range invalid {
		if _, err := ParseRecordKey(raw); err == nil {
			t.Errorf("ParseRecordKey(%q) succeeded, want error", raw)
		}
	}
}

func TestDIDJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Subject DID `json:"subject"`
	}

	original := wrapper{}
	var err error
	original.Subject, err = ParseDID("did:plc:abc123")
	if err != nil {
		t.Fatalf("ParseDID failed: %v", err)
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(encoded) != `{"subject":"did:plc:abc123"}` {
		t.Errorf("Marshal = %s", encoded)
	}

	var decoded wrapper
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Subject != original.Subject {
		t.Errorf("round trip = %q, want %q", decoded.Subject, original.Subject)
	}

	var invalid wrapper
	if err := json.Unmarshal([]byte(`{"subject":"not-a-did"}`), &invalid); err == nil {
		t.Error("Unmarshal of invalid DID succeeded, want error")
	}
}
