// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/atdrop/atdrop/lib/clock"
	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/signaling"
	"github.com/atdrop/atdrop/transfer"
)

// ErrOfferNotFound means no valid offer exists at the session key.
// The session stays idle; running a new flow with the same inputs
// retries.
var ErrOfferNotFound = errors.New("handshake: no offer found for session key")

// Fallbacks for offers that omit file metadata.
const (
	DefaultFileName = "received_file"
	DefaultMimeType = "application/octet-stream"
)

// AnswerFlowConfig configures the answering (receiving) side of a
// session.
type AnswerFlowConfig struct {
	// Exchange fetches the offer and posts the answer.
	Exchange *signaling.Exchange
	// Transport creates the peer connection.
	Transport PeerTransport
	// Sender is who the file comes from, as a handle or DID.
	Sender ref.AtIdentifier
	// SessionKey is the key shared out-of-band by the sender.
	SessionKey ref.RecordKey
	// Clock drives timeouts. If nil, the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Progress, when set, receives per-chunk receive progress.
	Progress func(received int64)
}

// AnswerFlow drives one answering session: fetch and validate the
// offer, answer it, and assemble the file the peer streams.
type AnswerFlow struct {
	config  AnswerFlowConfig
	clock   clock.Clock
	logger  *slog.Logger
	session *SessionContext
}

// NewAnswerFlow creates the flow and its session context.
func NewAnswerFlow(config AnswerFlowConfig) *AnswerFlow {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	session := newSessionContext(RoleAnswer, config.Exchange.LocalDID(), logger)
	session.Key = config.SessionKey

	return &AnswerFlow{
		config:  config,
		clock:   c,
		logger:  logger,
		session: session,
	}
}

// Session returns the flow's session context for status observation.
func (f *AnswerFlow) Session() *SessionContext {
	return f.session
}

// Run executes the session to completion and returns the assembled
// payload. A degraded assembly (channel cut short, stream stalled) is
// returned alongside its error so the caller can still keep the
// partial file.
//
// A missing offer returns ErrOfferNotFound and leaves the session
// idle; an offer addressed to someone else returns
// signaling.ErrNotIntendedForViewer, also without state changes.
func (f *AnswerFlow) Run(ctx context.Context) (*transfer.Assembly, error) {
	session := f.session

	offer, senderDID, err := f.config.Exchange.FetchOffer(ctx, f.config.Sender, session.Key)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w (sender %s, key %s)", ErrOfferNotFound, senderDID, session.Key)
	}
	if err := f.config.Exchange.ValidateOfferRecipient(offer); err != nil {
		return nil, err
	}

	session.setPeerDID(senderDID)
	session.SessionTimestamp = offer.SessionTimestamp
	session.setFileMeta(metaWithDefaults(offer.FileMeta))

	session.transition(StatePreparingLocalDescription)
	connection, err := f.config.Transport.NewConnection(ctx)
	if err != nil {
		session.fail(FailureChannelError)
		return nil, fmt.Errorf("handshake: creating connection: %w", err)
	}
	defer connection.Close()

	// The receiver is constructed inside the channel-opened callback,
	// before this callback returns, so its message handler is in
	// place before the peer's first chunk can arrive.
	receivers := make(chan *transfer.Receiver, 1)
	connection.OnChannelOpened(func(channel transfer.DataChannel) {
		receiver := transfer.NewReceiver(transfer.ReceiverConfig{
			Channel:  channel,
			Clock:    f.clock,
			Logger:   f.logger,
			Progress: f.config.Progress,
		})
		select {
		case receivers <- receiver:
		default:
		}
	})
	connection.OnStateChange(func(state ConnState) {
		f.logger.Info("connection state changed",
			"session_key", session.Key,
			"state", state,
		)
	})

	if err := connection.ApplyRemoteOffer(offer.SDP); err != nil {
		session.fail(FailureChannelError)
		return nil, err
	}

	sdp, err := connection.CreateAnswer(ctx)
	if err != nil {
		if ctx.Err() != nil {
			session.fail(FailureCancelled)
		} else {
			session.fail(FailureChannelError)
		}
		return nil, err
	}
	session.transition(StateLocalDescriptionReady)

	answer := signaling.AnswerRecord{
		CreatedAt:        f.clock.Now().UTC().Format(time.RFC3339),
		SDP:              sdp,
		SessionTimestamp: offer.SessionTimestamp,
	}
	if err := f.config.Exchange.PostAnswer(ctx, senderDID, answer, session.Key); err != nil {
		session.fail(FailureSignalingPostFailed)
		return nil, err
	}
	session.transition(StateSignalingPosted)

	var receiver *transfer.Receiver
	select {
	case receiver = <-receivers:
	case <-f.clock.After(channelOpenTimeout):
		session.fail(FailureChannelError)
		return nil, fmt.Errorf("handshake: channel did not open within %s", channelOpenTimeout)
	case <-ctx.Done():
		session.fail(FailureCancelled)
		return nil, ctx.Err()
	}
	session.transition(StateChannelOpen)

	session.transition(StateTransferring)
	assembly, err := receiver.Wait(ctx)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrStalled):
			session.fail(FailureTransferTimeout)
		case ctx.Err() != nil:
			session.fail(FailureCancelled)
		default:
			session.fail(FailureIncompleteTransfer)
		}
		return assembly, err
	}
	session.transition(StateComplete)

	f.config.Exchange.DeleteAnswer(context.WithoutCancel(ctx), session.Key)
	return assembly, nil
}

func metaWithDefaults(meta signaling.FileMeta) signaling.FileMeta {
	meta.Name = safeFileName(meta.Name)
	if meta.MimeType == "" {
		meta.MimeType = DefaultMimeType
	}
	return meta
}

// safeFileName reduces the sender-declared file name to a bare name.
// The declared name is untrusted input: anything carrying path
// components ("../../.ssh/authorized_keys", an absolute path) must not
// be usable to write outside the receiver's working directory.
func safeFileName(name string) string {
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return DefaultFileName
	}
	return base
}
