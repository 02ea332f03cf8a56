// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/atdrop/atdrop/lib/ref"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func mustDID(t *testing.T, raw string) ref.DID {
	t.Helper()
	did, err := ref.ParseDID(raw)
	if err != nil {
		t.Fatalf("ParseDID(%q) failed: %v", raw, err)
	}
	return did
}

func mustIdentifier(t *testing.T, raw string) ref.AtIdentifier {
	t.Helper()
	identifier, err := ref.ParseAtIdentifier(raw)
	if err != nil {
		t.Fatalf("ParseAtIdentifier(%q) failed: %v", raw, err)
	}
	return identifier
}

func mustRKey(t *testing.T, raw string) ref.RecordKey {
	t.Helper()
	rkey, err := ref.ParseRecordKey(raw)
	if err != nil {
		t.Fatalf("ParseRecordKey(%q) failed: %v", raw, err)
	}
	return rkey
}

// staticResolver resolves every identifier to itself (DIDs) and never
// touches the network.
type staticResolver struct {
	handles map[string]ref.DID
}

func (r *staticResolver) ResolveIdentifier(ctx context.Context, identifier ref.AtIdentifier) (ref.DID, error) {
	if identifier.IsDID() {
		return identifier.DID(), nil
	}
	did, ok := r.handles[identifier.Handle().String()]
	if !ok {
		return ref.DID{}, errors.New("unknown handle")
	}
	return did, nil
}

func (r *staticResolver) PDSEndpoint(ctx context.Context, did ref.DID) (string, error) {
	return "https://unused.example", nil
}

func newTestPair(t *testing.T) (sender, receiver *Exchange, senderStore, receiverStore *MemoryStore) {
	t.Helper()
	senderDID := mustDID(t, "did:plc:sender")
	receiverDID := mustDID(t, "did:plc:receiver")

	senderStore = NewMemoryStore(senderDID)
	receiverStore = NewMemoryStore(receiverDID)
	senderStore.Join(receiverStore)

	resolver := &staticResolver{handles: map[string]ref.DID{
		"sender.example.com":   senderDID,
		"receiver.example.com": receiverDID,
	}}
	sender = NewExchange(senderStore, resolver, senderDID, testLogger)
	receiver = NewExchange(receiverStore, resolver, receiverDID, testLogger)
	return sender, receiver, senderStore, receiverStore
}

func testOffer(sessionTimestamp string) OfferRecord {
	return OfferRecord{
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		SDP:              "v=0\r\no=- offer",
		FileMeta:         FileMeta{Name: "notes.txt", Size: 1234, MimeType: "text/plain"},
		SessionTimestamp: sessionTimestamp,
	}
}

func testAnswer(sessionTimestamp string) AnswerRecord {
	return AnswerRecord{
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		SDP:              "v=0\r\no=- answer",
		SessionTimestamp: sessionTimestamp,
	}
}

func TestOfferRoundTrip(t *testing.T) {
	ctx := context.Background()
	sender, receiver, _, _ := newTestPair(t)
	key := mustRKey(t, "session-1")
	sessionTimestamp := "2026-08-29T10:00:00Z"

	receiverDID, err := sender.PostOffer(ctx, mustIdentifier(t, "receiver.example.com"), testOffer(sessionTimestamp), key)
	if err != nil {
		t.Fatalf("PostOffer failed: %v", err)
	}
	if receiverDID.String() != "did:plc:receiver" {
		t.Errorf("resolved receiver = %q", receiverDID)
	}

	offer, senderDID, err := receiver.FetchOffer(ctx, mustIdentifier(t, "sender.example.com"), key)
	if err != nil {
		t.Fatalf("FetchOffer failed: %v", err)
	}
	if offer == nil {
		t.Fatal("FetchOffer returned nil for a posted offer")
	}
	if senderDID.String() != "did:plc:sender" {
		t.Errorf("resolved sender = %q", senderDID)
	}
	if offer.SDP != "v=0\r\no=- offer" {
		t.Errorf("sdp = %q", offer.SDP)
	}
	if offer.IntendedReceiverDID != "did:plc:receiver" {
		t.Errorf("intendedReceiverDid = %q", offer.IntendedReceiverDID)
	}
	if offer.SessionTimestamp != sessionTimestamp {
		t.Errorf("sessionTimestamp = %q", offer.SessionTimestamp)
	}
	if offer.FileMeta.Name != "notes.txt" || offer.FileMeta.Size != 1234 {
		t.Errorf("fileMeta = %+v", offer.FileMeta)
	}
}

func TestPostOfferIdempotentOverwrite(t *testing.T) {
	ctx := context.Background()
	sender, receiver, _, _ := newTestPair(t)
	key := mustRKey(t, "session-1")

	first := testOffer("2026-08-29T10:00:00Z")
	first.SDP = "v=0 first"
	if _, err := sender.PostOffer(ctx, mustIdentifier(t, "did:plc:receiver"), first, key); err != nil {
		t.Fatalf("first PostOffer failed: %v", err)
	}

	second := testOffer("2026-08-29T10:05:00Z")
	second.SDP = "v=0 second"
	if _, err := sender.PostOffer(ctx, mustIdentifier(t, "did:plc:receiver"), second, key); err != nil {
		t.Fatalf("second PostOffer failed: %v", err)
	}

	offer, _, err := receiver.FetchOffer(ctx, mustIdentifier(t, "did:plc:sender"), key)
	if err != nil {
		t.Fatalf("FetchOffer failed: %v", err)
	}
	if offer == nil {
		t.Fatal("FetchOffer returned nil")
	}
	if offer.SDP != "v=0 second" {
		t.Errorf("sdp = %q, want the overwritten record", offer.SDP)
	}
}

func TestFetchOfferMissingIsNil(t *testing.T) {
	ctx := context.Background()
	_, receiver, _, _ := newTestPair(t)

	offer, senderDID, err := receiver.FetchOffer(ctx, mustIdentifier(t, "did:plc:sender"), mustRKey(t, "nothing-here"))
	if err != nil {
		t.Fatalf("FetchOffer failed: %v", err)
	}
	if offer != nil {
		t.Errorf("offer = %+v, want nil", offer)
	}
	if senderDID.String() != "did:plc:sender" {
		t.Errorf("senderDID = %q", senderDID)
	}
}

func TestFetchOfferInvalidRecordIsNil(t *testing.T) {
	ctx := context.Background()
	_, receiver, senderStore, _ := newTestPair(t)
	key := mustRKey(t, "session-1")

	// A foreign record type at the session key must be rejected, not
	// half-parsed.
	if err := senderStore.Put(ctx, OfferCollection, key, map[string]string{
		"$type": "app.bsky.feed.post",
		"text":  "not an offer",
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	offer, _, err := receiver.FetchOffer(ctx, mustIdentifier(t, "did:plc:sender"), key)
	if err != nil {
		t.Fatalf("FetchOffer failed: %v", err)
	}
	if offer != nil {
		t.Errorf("offer = %+v, want nil for invalid record", offer)
	}
}

func TestAnswerRoundTripAndMatch(t *testing.T) {
	ctx := context.Background()
	sender, receiver, _, _ := newTestPair(t)
	key := mustRKey(t, "session-1")
	sessionTimestamp := "2026-08-29T10:00:00Z"

	if err := receiver.PostAnswer(ctx, sender.LocalDID(), testAnswer(sessionTimestamp), key); err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}

	answer, err := sender.FetchAnswer(ctx, receiver.LocalDID(), key)
	if err != nil {
		t.Fatalf("FetchAnswer failed: %v", err)
	}
	if answer == nil {
		t.Fatal("FetchAnswer returned nil for a posted answer")
	}
	if answer.IntendedSenderDID != "did:plc:sender" {
		t.Errorf("intendedSenderDid = %q", answer.IntendedSenderDID)
	}
	if err := sender.MatchAnswer(answer, sessionTimestamp); err != nil {
		t.Errorf("MatchAnswer rejected a matching answer: %v", err)
	}
}

func TestMatchAnswerTimestampMismatch(t *testing.T) {
	ctx := context.Background()
	sender, receiver, _, _ := newTestPair(t)
	key := mustRKey(t, "session-1")

	// Answer for an earlier run of the same pair at the same key.
	if err := receiver.PostAnswer(ctx, sender.LocalDID(), testAnswer("2026-08-29T09:00:00Z"), key); err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}

	answer, err := sender.FetchAnswer(ctx, receiver.LocalDID(), key)
	if err != nil || answer == nil {
		t.Fatalf("FetchAnswer = (%v, %v)", answer, err)
	}
	err = sender.MatchAnswer(answer, "2026-08-29T10:00:00Z")
	if !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("expected ErrSessionMismatch, got %v", err)
	}
}

func TestMatchAnswerWrongSender(t *testing.T) {
	sender, _, _, _ := newTestPair(t)

	answer := testAnswer("2026-08-29T10:00:00Z")
	answer.Type = AnswerType
	answer.IntendedSenderDID = "did:plc:somebodyelse"
	err := sender.MatchAnswer(&answer, "2026-08-29T10:00:00Z")
	if !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("expected ErrSessionMismatch, got %v", err)
	}
}

func TestValidateOfferRecipient(t *testing.T) {
	_, receiver, _, _ := newTestPair(t)

	for _, test := range []struct {
		name                string
		intendedReceiverDID string
		wantErr             error
	}{
		{"addressed to viewer", "did:plc:receiver", nil},
		{"open offer", "", nil},
		{"addressed elsewhere", "did:plc:somebodyelse", ErrNotIntendedForViewer},
	} {
		t.Run(test.name, func(t *testing.T) {
			offer := testOffer("2026-08-29T10:00:00Z")
			offer.Type = OfferType
			offer.IntendedReceiverDID = test.intendedReceiverDID
			err := receiver.ValidateOfferRecipient(&offer)
			if test.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateOfferRecipient failed: %v", err)
				}
			} else if !errors.Is(err, test.wantErr) {
				t.Errorf("err = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestDeleteOfferRemovesRecord(t *testing.T) {
	ctx := context.Background()
	sender, receiver, _, _ := newTestPair(t)
	key := mustRKey(t, "session-1")

	if _, err := sender.PostOffer(ctx, mustIdentifier(t, "did:plc:receiver"), testOffer("2026-08-29T10:00:00Z"), key); err != nil {
		t.Fatalf("PostOffer failed: %v", err)
	}
	sender.DeleteOffer(ctx, key)

	offer, _, err := receiver.FetchOffer(ctx, mustIdentifier(t, "did:plc:sender"), key)
	if err != nil {
		t.Fatalf("FetchOffer failed: %v", err)
	}
	if offer != nil {
		t.Errorf("offer still present after delete: %+v", offer)
	}
}

func TestRecordValidation(t *testing.T) {
	valid := testOffer("2026-08-29T10:00:00Z")
	valid.Type = OfferType
	if err := valid.Validate(); err != nil {
		t.Errorf("valid offer rejected: %v", err)
	}

	for _, test := range []struct {
		name   string
		mutate func(*OfferRecord)
	}{
		{"wrong type", func(o *OfferRecord) { o.Type = AnswerType }},
		{"empty sdp", func(o *OfferRecord) { o.SDP = "" }},
		{"bad createdAt", func(o *OfferRecord) { o.CreatedAt = "yesterday" }},
		{"empty sessionTimestamp", func(o *OfferRecord) { o.SessionTimestamp = "" }},
	} {
		t.Run(test.name, func(t *testing.T) {
			offer := testOffer("2026-08-29T10:00:00Z")
			offer.Type = OfferType
			test.mutate(&offer)
			if err := offer.Validate(); err == nil {
				t.Error("Validate accepted an invalid offer")
			}
		})
	}
}
