// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package pds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/lib/secret"
)

func mustDID(t *testing.T, raw string) ref.DID {
	t.Helper()
	did, err := ref.ParseDID(raw)
	if err != nil {
		t.Fatalf("ParseDID(%q) failed: %v", raw, err)
	}
	return did
}

func mustNSID(t *testing.T, raw string) ref.NSID {
	t.Helper()
	nsid, err := ref.ParseNSID(raw)
	if err != nil {
		t.Fatalf("ParseNSID(%q) failed: %v", raw, err)
	}
	return nsid
}

func mustRKey(t *testing.T, raw string) ref.RecordKey {
	t.Helper()
	rkey, err := ref.ParseRecordKey(raw)
	if err != nil {
		t.Fatalf("ParseRecordKey(%q) failed: %v", raw, err)
	}
	return rkey
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, serviceURL := range []string{"", "ftp://example.com", "not a url\x7f"} {
		if _, err := NewClient(ClientConfig{ServiceURL: serviceURL}); err == nil {
			t.Errorf("NewClient(%q) succeeded, want error", serviceURL)
		}
	}
	if _, err := NewClient(ClientConfig{ServiceURL: "https://pds.example.com/"}); err != nil {
		t.Errorf("NewClient failed for valid URL: %v", err)
	}
}

func TestGetRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.getRecord" {
			t.Errorf("path = %q", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("repo") != "did:plc:sender" {
			t.Errorf("repo = %q", query.Get("repo"))
		}
		if query.Get("collection") != "app.atdrop.signal.offer" {
			t.Errorf("collection = %q", query.Get("collection"))
		}
		if query.Get("rkey") != "session-key-1" {
			t.Errorf("rkey = %q", query.Get("rkey"))
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("public read sent Authorization header %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"uri":   "at://did:plc:sender/app.atdrop.signal.offer/session-key-1",
			"cid":   "bafyreib2rxk3rybk3aobmv5cjuql3bm2twh4jo5uxgf5kpqrsqw4l5pcgq",
			"value": map[string]any{"sdp": "v=0"},
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	envelope, err := client.GetRecord(context.Background(),
		mustDID(t, "did:plc:sender"),
		mustNSID(t, "app.atdrop.signal.offer"),
		mustRKey(t, "session-key-1"))
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if envelope.URI != "at://did:plc:sender/app.atdrop.signal.offer/session-key-1" {
		t.Errorf("URI = %q", envelope.URI)
	}

	var value struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(envelope.Value, &value); err != nil {
		t.Fatalf("unmarshaling value: %v", err)
	}
	if value.SDP != "v=0" {
		t.Errorf("value.sdp = %q", value.SDP)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "RecordNotFound",
			"message": "Record not found",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.GetRecord(context.Background(),
		mustDID(t, "did:plc:sender"),
		mustNSID(t, "app.atdrop.signal.offer"),
		mustRKey(t, "missing"))
	if err == nil {
		t.Fatal("GetRecord succeeded for missing record")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
	if !IsXRPCError(err, ErrNameRecordNotFound) {
		t.Errorf("IsXRPCError(%v, RecordNotFound) = false", err)
	}
}

func TestResolveHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.identity.resolveHandle" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("handle"); got != "alice.example.com" {
			t.Errorf("handle = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:alice123"})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	handle, err := ref.ParseHandle("alice.example.com")
	if err != nil {
		t.Fatalf("ParseHandle failed: %v", err)
	}
	did, err := client.ResolveHandle(context.Background(), handle)
	if err != nil {
		t.Fatalf("ResolveHandle failed: %v", err)
	}
	if did.String() != "did:plc:alice123" {
		t.Errorf("did = %q", did)
	}
}

func TestCreateSessionAndPutRecord(t *testing.T) {
	var putBody putRecordRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			var request createSessionRequest
			if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
				t.Errorf("decoding createSession body: %v", err)
			}
			if request.Identifier != "alice.example.com" {
				t.Errorf("identifier = %q", request.Identifier)
			}
			if request.Password != "app-pass" {
				t.Errorf("password = %q", request.Password)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"accessJwt":  "jwt-token",
				"refreshJwt": "refresh-token",
				"handle":     "alice.example.com",
				"did":        "did:plc:alice123",
			})
		case "/xrpc/com.atproto.repo.putRecord":
			if auth := r.Header.Get("Authorization"); auth != "Bearer jwt-token" {
				t.Errorf("Authorization = %q", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(&putBody); err != nil {
				t.Errorf("decoding putRecord body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"uri": "at://did:plc:alice123/app.atdrop.signal.offer/k1",
				"cid": "bafyreifake",
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	password, err := secret.NewFromBytes([]byte("app-pass"))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer password.Close()

	identifier, err := ref.ParseAtIdentifier("alice.example.com")
	if err != nil {
		t.Fatalf("ParseAtIdentifier failed: %v", err)
	}

	session, err := client.CreateSession(context.Background(), identifier, password)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	defer session.Close()

	if session.DID().String() != "did:plc:alice123" {
		t.Errorf("session DID = %q", session.DID())
	}

	response, err := session.PutRecord(context.Background(),
		mustNSID(t, "app.atdrop.signal.offer"),
		mustRKey(t, "k1"),
		map[string]string{"sdp": "v=0"})
	if err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	if response.URI != "at://did:plc:alice123/app.atdrop.signal.offer/k1" {
		t.Errorf("URI = %q", response.URI)
	}
	if putBody.Repo.String() != "did:plc:alice123" {
		t.Errorf("putRecord repo = %q (must be the session's own repo)", putBody.Repo)
	}
}

func TestCreateSessionAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "AuthenticationRequired",
			"message": "Invalid identifier or password",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	password, err := secret.NewFromBytes([]byte("wrong"))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer password.Close()

	identifier, err := ref.ParseAtIdentifier("alice.example.com")
	if err != nil {
		t.Fatalf("ParseAtIdentifier failed: %v", err)
	}

	_, err = client.CreateSession(context.Background(), identifier, password)
	if !IsXRPCError(err, ErrNameAuthRequired) {
		t.Errorf("expected AuthenticationRequired, got %v", err)
	}
}

func TestDeleteRecord(t *testing.T) {
	deleted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.deleteRecord" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var request deleteRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decoding deleteRecord body: %v", err)
		}
		if request.RKey.String() != "k1" {
			t.Errorf("rkey = %q", request.RKey)
		}
		deleted = true
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken(mustDID(t, "did:plc:alice123"), "jwt-token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	defer session.Close()

	if err := session.DeleteRecord(context.Background(),
		mustNSID(t, "app.atdrop.signal.offer"), mustRKey(t, "k1")); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if !deleted {
		t.Error("server did not receive the delete")
	}
}

func TestNonXRPCErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{ServiceURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.GetRecord(context.Background(),
		mustDID(t, "did:plc:x"), mustNSID(t, "app.atdrop.signal.offer"), mustRKey(t, "k"))
	if err == nil {
		t.Fatal("GetRecord succeeded against a 502")
	}
	var xrpcErr *XRPCError
	if errors.As(err, &xrpcErr) {
		t.Errorf("non-JSON body mapped to XRPCError %v", xrpcErr)
	}
}
