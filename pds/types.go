// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package pds

import (
	"encoding/json"

	"github.com/atdrop/atdrop/lib/ref"
)

// RecordEnvelope is a record as returned by com.atproto.repo.getRecord:
// the addressing metadata plus the record value as raw JSON. Decoding
// and validating the value is the caller's concern (the signaling
// package validates at this boundary).
type RecordEnvelope struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// PutRecordResponse is the addressing metadata for a written record.
type PutRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// DescribeServerResponse describes a PDS (com.atproto.server.describeServer).
// Only the fields atdrop reads are declared.
type DescribeServerResponse struct {
	DID                   ref.DID  `json:"did"`
	AvailableUserDomains  []string `json:"availableUserDomains"`
	InviteCodeRequired    bool     `json:"inviteCodeRequired"`
	PhoneVerificationReqd bool     `json:"phoneVerificationRequired"`
}

// createSessionRequest is the com.atproto.server.createSession body.
type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// createSessionResponse is the subset of the createSession response
// atdrop uses. The refresh token is deliberately ignored: sessions
// are single-shot and never persisted.
type createSessionResponse struct {
	AccessJWT string     `json:"accessJwt"`
	Handle    ref.Handle `json:"handle"`
	DID       ref.DID    `json:"did"`
}

// resolveHandleResponse is the com.atproto.identity.resolveHandle response.
type resolveHandleResponse struct {
	DID ref.DID `json:"did"`
}

// putRecordRequest is the com.atproto.repo.putRecord body.
type putRecordRequest struct {
	Repo       ref.DID       `json:"repo"`
	Collection ref.NSID      `json:"collection"`
	RKey       ref.RecordKey `json:"rkey"`
	Record     any           `json:"record"`
}

// deleteRecordRequest is the com.atproto.repo.deleteRecord body.
type deleteRecordRequest struct {
	Repo       ref.DID       `json:"repo"`
	Collection ref.NSID      `json:"collection"`
	RKey       ref.RecordKey `json:"rkey"`
}
