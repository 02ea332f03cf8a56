// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atdrop/atdrop/identity"
	"github.com/atdrop/atdrop/lib/ref"
)

// Errors callers branch on during answer matching and offer
// acceptance. Both are returned unwrapped.
var (
	// ErrSessionMismatch means an answer does not belong to the offer
	// being polled for: its session timestamp differs, or it names a
	// different sender.
	ErrSessionMismatch = errors.New("signaling: answer does not match this session")

	// ErrNotIntendedForViewer means an offer names a different
	// intended receiver than the account trying to accept it.
	ErrNotIntendedForViewer = errors.New("signaling: offer is intended for a different account")
)

// Exchange posts and fetches signaling records. One Exchange serves
// one local account; both roles (offeror polling for an answer,
// answerer fetching an offer) go through the same instance.
type Exchange struct {
	store    RecordStore
	resolver identity.Resolver
	localDID ref.DID
	logger   *slog.Logger
}

// NewExchange creates an exchange writing as localDID.
func NewExchange(store RecordStore, resolver identity.Resolver, localDID ref.DID, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{
		store:    store,
		resolver: resolver,
		localDID: localDID,
		logger:   logger,
	}
}

// LocalDID returns the account this exchange writes as.
func (e *Exchange) LocalDID() ref.DID {
	return e.localDID
}

// PostOffer resolves the receiver, stamps the offer with the
// receiver's DID, and writes it into the local repository under the
// session key. Re-posting under the same key overwrites. Returns the
// resolved receiver DID.
func (e *Exchange) PostOffer(ctx context.Context, receiver ref.AtIdentifier, offer OfferRecord, key ref.RecordKey) (ref.DID, error) {
	receiverDID, err := e.resolver.ResolveIdentifier(ctx, receiver)
	if err != nil {
		return ref.DID{}, err
	}

	offer.Type = OfferType
	offer.IntendedReceiverDID = receiverDID.String()
	if err := offer.Validate(); err != nil {
		return ref.DID{}, err
	}

	if err := e.store.Put(ctx, OfferCollection, key, &offer); err != nil {
		return ref.DID{}, fmt.Errorf("signaling: posting offer: %w", err)
	}
	e.logger.Info("offer posted",
		"session_key", key,
		"receiver", receiverDID,
	)
	return receiverDID, nil
}

// FetchOffer reads the sender's offer at the session key. The sender
// may be given as a handle or DID; resolution failures surface, but
// any read failure (missing record, unreachable server, invalid
// record) yields a nil offer with the resolved DID, so a caller can
// poll or re-run without branching on failure shape.
func (e *Exchange) FetchOffer(ctx context.Context, sender ref.AtIdentifier, key ref.RecordKey) (*OfferRecord, ref.DID, error) {
	senderDID, err := e.resolver.ResolveIdentifier(ctx, sender)
	if err != nil {
		return nil, ref.DID{}, err
	}

	raw, err := e.store.Get(ctx, senderDID, OfferCollection, key)
	if err != nil {
		e.logReadFailure("offer", senderDID, key, err)
		return nil, senderDID, nil
	}

	var offer OfferRecord
	if err := json.Unmarshal(raw, &offer); err != nil {
		e.logReadFailure("offer", senderDID, key, err)
		return nil, senderDID, nil
	}
	if err := offer.Validate(); err != nil {
		e.logReadFailure("offer", senderDID, key, err)
		return nil, senderDID, nil
	}
	return &offer, senderDID, nil
}

// PostAnswer stamps the answer with the offering sender's DID and
// writes it into the local repository under the session key.
func (e *Exchange) PostAnswer(ctx context.Context, sender ref.DID, answer AnswerRecord, key ref.RecordKey) error {
	answer.Type = AnswerType
	answer.IntendedSenderDID = sender.String()
	if err := answer.Validate(); err != nil {
		return err
	}

	if err := e.store.Put(ctx, AnswerCollection, key, &answer); err != nil {
		return fmt.Errorf("signaling: posting answer: %w", err)
	}
	e.logger.Info("answer posted",
		"session_key", key,
		"sender", sender,
	)
	return nil
}

// FetchAnswer reads the receiver's answer at the session key. Any
// read failure yields nil, nil: the poll loop treats "not yet",
// "unreachable", and "invalid" identically and simply tries again.
func (e *Exchange) FetchAnswer(ctx context.Context, receiver ref.DID, key ref.RecordKey) (*AnswerRecord, error) {
	raw, err := e.store.Get(ctx, receiver, AnswerCollection, key)
	if err != nil {
		e.logReadFailure("answer", receiver, key, err)
		return nil, nil
	}

	var answer AnswerRecord
	if err := json.Unmarshal(raw, &answer); err != nil {
		e.logReadFailure("answer", receiver, key, err)
		return nil, nil
	}
	if err := answer.Validate(); err != nil {
		e.logReadFailure("answer", receiver, key, err)
		return nil, nil
	}
	return &answer, nil
}

// MatchAnswer decides whether an answer belongs to the session the
// local account is offering: the session timestamps must be equal and
// the answer must name the local account as the sender it is
// answering. Anything else is ErrSessionMismatch.
func (e *Exchange) MatchAnswer(answer *AnswerRecord, offerSessionTimestamp string) error {
	if answer.SessionTimestamp != offerSessionTimestamp {
		return fmt.Errorf("%w: session timestamp %q, want %q",
			ErrSessionMismatch, answer.SessionTimestamp, offerSessionTimestamp)
	}
	if answer.IntendedSenderDID != e.localDID.String() {
		return fmt.Errorf("%w: intended sender %q, local account %s",
			ErrSessionMismatch, answer.IntendedSenderDID, e.localDID)
	}
	return nil
}

// ValidateOfferRecipient rejects an offer addressed to somebody else.
// An offer with no intended receiver is open and accepted.
func (e *Exchange) ValidateOfferRecipient(offer *OfferRecord) error {
	if offer.IntendedReceiverDID == "" {
		return nil
	}
	if offer.IntendedReceiverDID != e.localDID.String() {
		return fmt.Errorf("%w: intended receiver %q, local account %s",
			ErrNotIntendedForViewer, offer.IntendedReceiverDID, e.localDID)
	}
	return nil
}

// DeleteOffer removes the local offer record. Best-effort: failures
// are logged and swallowed, cleanup never fails a completed session.
func (e *Exchange) DeleteOffer(ctx context.Context, key ref.RecordKey) {
	if err := e.store.Delete(ctx, OfferCollection, key); err != nil {
		e.logger.Warn("offer cleanup failed",
			"session_key", key,
			"error", err,
		)
	}
}

// DeleteAnswer removes the local answer record. Best-effort.
func (e *Exchange) DeleteAnswer(ctx context.Context, key ref.RecordKey) {
	if err := e.store.Delete(ctx, AnswerCollection, key); err != nil {
		e.logger.Warn("answer cleanup failed",
			"session_key", key,
			"error", err,
		)
	}
}

func (e *Exchange) logReadFailure(kind string, owner ref.DID, key ref.RecordKey, err error) {
	level := slog.LevelDebug
	if !errors.Is(err, ErrRecordNotFound) {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "signaling record unavailable",
		"kind", kind,
		"owner", owner,
		"session_key", key,
		"error", err,
	)
}
