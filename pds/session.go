// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package pds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/lib/secret"
)

// Session is an authenticated connection to the account's own PDS.
// It is the only type that can write: putRecord and deleteRecord are
// always addressed to the session account's repository, matching the
// protocol rule that signaling records live in their author's repo.
type Session struct {
	client      *Client
	did         ref.DID
	handle      ref.Handle
	accessToken *secret.Buffer
}

// DID returns the authenticated account's DID.
func (s *Session) DID() ref.DID {
	return s.did
}

// Handle returns the authenticated account's handle, when the login
// response carried one. May be the zero value for token sessions.
func (s *Session) Handle() ref.Handle {
	return s.handle
}

// Client returns the underlying PDS client, for unauthenticated calls
// against the same service.
func (s *Session) Client() *Client {
	return s.client
}

// Close releases the locked token buffer. The session is unusable
// afterwards. Idempotent.
func (s *Session) Close() error {
	if s.accessToken == nil {
		return nil
	}
	err := s.accessToken.Close()
	s.accessToken = nil
	return err
}

// PutRecord writes a record into the session account's repository at
// the given collection and key (com.atproto.repo.putRecord). Writing
// to an existing key overwrites the record — re-posting signaling
// state is idempotent by construction.
func (s *Session) PutRecord(ctx context.Context, collection ref.NSID, rkey ref.RecordKey, record any) (*PutRecordResponse, error) {
	if s.accessToken == nil {
		return nil, fmt.Errorf("pds: session is closed")
	}

	request := putRecordRequest{
		Repo:       s.did,
		Collection: collection,
		RKey:       rkey,
		Record:     record,
	}

	body, err := s.client.doRequest(ctx, http.MethodPost, "com.atproto.repo.putRecord", nil, s.accessToken, request)
	if err != nil {
		return nil, fmt.Errorf("pds: putting record %s/%s: %w", collection, rkey, err)
	}

	var response PutRecordResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("pds: parsing putRecord response: %w", err)
	}

	s.client.logger.Debug("record written",
		"collection", collection,
		"rkey", rkey,
		"uri", response.URI,
	)
	return &response, nil
}

// DeleteRecord removes a record from the session account's repository
// (com.atproto.repo.deleteRecord). Deleting a record that does not
// exist is not an error on reference servers; when a server does
// report it, the *XRPCError passes through for the caller to judge.
func (s *Session) DeleteRecord(ctx context.Context, collection ref.NSID, rkey ref.RecordKey) error {
	if s.accessToken == nil {
		return fmt.Errorf("pds: session is closed")
	}

	request := deleteRecordRequest{
		Repo:       s.did,
		Collection: collection,
		RKey:       rkey,
	}

	if _, err := s.client.doRequest(ctx, http.MethodPost, "com.atproto.repo.deleteRecord", nil, s.accessToken, request); err != nil {
		return fmt.Errorf("pds: deleting record %s/%s: %w", collection, rkey, err)
	}

	s.client.logger.Debug("record deleted",
		"collection", collection,
		"rkey", rkey,
	)
	return nil
}
