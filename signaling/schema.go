// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"fmt"
	"time"

	"github.com/atdrop/atdrop/lib/ref"
)

// Record type discriminators. A record whose $type does not match the
// collection it was read from is rejected.
const (
	OfferType  = "app.atdrop.signal.offer"
	AnswerType = "app.atdrop.signal.answer"
)

// Collections holding signaling records.
var (
	OfferCollection  = ref.MustNSID("app.atdrop.signal.offer")
	AnswerCollection = ref.MustNSID("app.atdrop.signal.answer")
)

// FileMeta describes the file an offer proposes to send. All fields
// are declarative: the receiver treats Size as an estimate for
// progress display, not a limit.
type FileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// OfferRecord is the sender's signaling record: a complete session
// description (all transport candidates included), the proposed file,
// a session timestamp correlating the eventual answer, and the DID the
// offer is intended for.
type OfferRecord struct {
	Type                string   `json:"$type"`
	CreatedAt           string   `json:"createdAt"`
	SDP                 string   `json:"sdp"`
	FileMeta            FileMeta `json:"fileMeta"`
	SessionTimestamp    string   `json:"sessionTimestamp"`
	IntendedReceiverDID string   `json:"intendedReceiverDid"`
}

// AnswerRecord is the receiver's signaling record. SessionTimestamp
// must echo the offer's value; IntendedSenderDID names the offeror so
// the offeror can confirm the answer is addressed to them.
type AnswerRecord struct {
	Type              string `json:"$type"`
	CreatedAt         string `json:"createdAt"`
	SDP               string `json:"sdp"`
	SessionTimestamp  string `json:"sessionTimestamp"`
	IntendedSenderDID string `json:"intendedSenderDid"`
}

// Validate checks the invariants every offer must satisfy before any
// of its fields are acted on.
func (r *OfferRecord) Validate() error {
	if r.Type != OfferType {
		return fmt.Errorf("signaling: record type %q, want %q", r.Type, OfferType)
	}
	if r.SDP == "" {
		return fmt.Errorf("signaling: offer has empty sdp")
	}
	if err := validTimestamp(r.CreatedAt); err != nil {
		return fmt.Errorf("signaling: offer createdAt: %w", err)
	}
	if err := validTimestamp(r.SessionTimestamp); err != nil {
		return fmt.Errorf("signaling: offer sessionTimestamp: %w", err)
	}
	return nil
}

// Validate checks the invariants every answer must satisfy.
func (r *AnswerRecord) Validate() error {
	if r.Type != AnswerType {
		return fmt.Errorf("signaling: record type %q, want %q", r.Type, AnswerType)
	}
	if r.SDP == "" {
		return fmt.Errorf("signaling: answer has empty sdp")
	}
	if err := validTimestamp(r.CreatedAt); err != nil {
		return fmt.Errorf("signaling: answer createdAt: %w", err)
	}
	if err := validTimestamp(r.SessionTimestamp); err != nil {
		return fmt.Errorf("signaling: answer sessionTimestamp: %w", err)
	}
	return nil
}

func validTimestamp(value string) error {
	if value == "" {
		return fmt.Errorf("empty timestamp")
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return fmt.Errorf("bad timestamp %q: %w", value, err)
	}
	return nil
}
