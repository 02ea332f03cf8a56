// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atdrop/atdrop/lib/clock"
	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/signaling"
	"github.com/atdrop/atdrop/transfer"
)

// channelOpenTimeout bounds the wait between applying the peer
// description and the data channel opening.
const channelOpenTimeout = 30 * time.Second

// PollPolicy bounds the answer poll loop. Polling backs off
// geometrically from Interval to MaxInterval and gives up at
// Deadline; indefinite polling is not supported.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Deadline    time.Duration
}

// DefaultPollPolicy returns the standard poll bounds.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    5 * time.Second,
		MaxInterval: 30 * time.Second,
		Multiplier:  2.0,
		Deadline:    10 * time.Minute,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	defaults := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = defaults.Interval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = defaults.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	if p.Deadline <= 0 {
		p.Deadline = defaults.Deadline
	}
	return p
}

// OfferFlowConfig configures the offering (sending) side of a session.
type OfferFlowConfig struct {
	// Exchange posts the offer and polls for the answer.
	Exchange *signaling.Exchange
	// Transport creates the peer connection.
	Transport PeerTransport
	// Receiver is who the file goes to, as a handle or DID.
	Receiver ref.AtIdentifier
	// File is the payload. Meta.Size declares its length.
	File io.Reader
	// Meta describes the file to the receiver.
	Meta signaling.FileMeta
	// SessionKey overrides the generated random session key.
	SessionKey ref.RecordKey
	// Poll bounds the answer poll loop. Zero fields get defaults.
	Poll PollPolicy
	// Clock drives polling and timeouts. If nil, the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Progress, when set, receives per-chunk send progress.
	Progress func(sent, total int64)
}

// OfferFlow drives one offering session: prepare the local
// description, post the offer, poll for the matching answer, and
// stream the file once the channel opens.
type OfferFlow struct {
	config  OfferFlowConfig
	clock   clock.Clock
	logger  *slog.Logger
	session *SessionContext

	// pendingChannel holds a channel-opened event observed before the
	// flow was ready for it. Touched only by the Run goroutine.
	pendingChannel transfer.DataChannel
}

// NewOfferFlow creates the flow and its session context. A session
// key is generated when the config leaves it zero; read it with
// SessionKey to share out-of-band.
func NewOfferFlow(config OfferFlowConfig) (*OfferFlow, error) {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key := config.SessionKey
	if key.IsZero() {
		generated, err := ref.ParseRecordKey(uuid.NewString())
		if err != nil {
			return nil, fmt.Errorf("handshake: generating session key: %w", err)
		}
		key = generated
	}

	session := newSessionContext(RoleOffer, config.Exchange.LocalDID(), logger)
	session.Key = key
	session.setFileMeta(config.Meta)

	return &OfferFlow{
		config:  config,
		clock:   c,
		logger:  logger,
		session: session,
	}, nil
}

// Session returns the flow's session context for status observation.
func (f *OfferFlow) Session() *SessionContext {
	return f.session
}

// SessionKey returns the key the receiver must be told out-of-band.
func (f *OfferFlow) SessionKey() ref.RecordKey {
	return f.session.Key
}

// Run executes the session to completion. It returns the send
// statistics on success; on failure the session context carries the
// failure reason. Cancelling the context stops polling and releases
// the connection.
func (f *OfferFlow) Run(ctx context.Context) (*transfer.SendStats, error) {
	session := f.session
	session.SessionTimestamp = f.clock.Now().UTC().Format(time.RFC3339)
	session.transition(StatePreparingLocalDescription)

	connection, err := f.config.Transport.NewConnection(ctx)
	if err != nil {
		session.fail(FailureChannelError)
		return nil, fmt.Errorf("handshake: creating connection: %w", err)
	}
	defer connection.Close()

	events := make(chan flowEvent, 16)
	connection.OnChannelOpened(func(channel transfer.DataChannel) {
		postEvent(events, eventChannelOpened{channel: channel})
	})
	connection.OnStateChange(func(state ConnState) {
		postEvent(events, eventConnState{state: state})
	})

	// The channel must exist before the offer is created so it is
	// negotiated in the description.
	if _, err := connection.OpenChannel(ChannelLabel); err != nil {
		session.fail(FailureChannelError)
		return nil, err
	}

	sdp, err := connection.CreateOffer(ctx)
	if err != nil {
		f.failFor(ctx, FailureChannelError)
		return nil, err
	}
	session.transition(StateLocalDescriptionReady)

	offer := signaling.OfferRecord{
		CreatedAt:        f.clock.Now().UTC().Format(time.RFC3339),
		SDP:              sdp,
		FileMeta:         f.config.Meta,
		SessionTimestamp: session.SessionTimestamp,
	}
	receiverDID, err := f.config.Exchange.PostOffer(ctx, f.config.Receiver, offer, session.Key)
	if err != nil {
		session.fail(FailureSignalingPostFailed)
		return nil, err
	}
	session.setPeerDID(receiverDID)
	session.transition(StateSignalingPosted)

	session.transition(StateAwaitingPeerDescription)
	answer, err := f.pollForAnswer(ctx, events, receiverDID)
	if err != nil {
		return nil, err
	}

	if err := connection.ApplyRemoteAnswer(answer.SDP); err != nil {
		session.fail(FailureChannelError)
		return nil, err
	}
	session.transition(StatePeerDescriptionApplied)

	channel, err := f.waitForChannel(ctx, events)
	if err != nil {
		return nil, err
	}
	session.transition(StateChannelOpen)

	session.transition(StateTransferring)
	sender := transfer.NewSender(transfer.SenderConfig{
		Channel:  channel,
		Clock:    f.clock,
		Logger:   f.logger,
		Progress: f.config.Progress,
	})
	stats, err := sender.Send(ctx, f.config.File, f.config.Meta.Size)
	if err != nil {
		f.failFor(ctx, FailureChannelError)
		return stats, err
	}
	session.transition(StateComplete)

	f.config.Exchange.DeleteOffer(context.WithoutCancel(ctx), session.Key)
	return stats, nil
}

// pollForAnswer fetches the answer record on a backing-off interval
// until one matches the session, the deadline passes, or the context
// is cancelled. Fetch failures and non-matching answers are logged
// and retried.
func (f *OfferFlow) pollForAnswer(ctx context.Context, events chan flowEvent, receiverDID ref.DID) (*signaling.AnswerRecord, error) {
	policy := f.config.Poll.withDefaults()
	interval := policy.Interval
	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()
	deadline := f.clock.After(policy.Deadline)

	for {
		select {
		case <-ctx.Done():
			f.session.fail(FailureCancelled)
			return nil, ctx.Err()

		case <-deadline:
			f.session.fail(FailureAnswerTimeout)
			return nil, fmt.Errorf("handshake: no answer within %s", policy.Deadline)

		case event := <-events:
			if err := f.handleBackgroundEvent(event); err != nil {
				return nil, err
			}

		case <-ticker.C:
			answer, _ := f.config.Exchange.FetchAnswer(ctx, receiverDID, f.session.Key)
			if answer != nil {
				matchErr := f.config.Exchange.MatchAnswer(answer, f.session.SessionTimestamp)
				if matchErr == nil {
					return answer, nil
				}
				f.logger.Info("ignoring non-matching answer",
					"session_key", f.session.Key,
					"error", matchErr,
				)
			}
			if interval < policy.MaxInterval {
				interval = time.Duration(float64(interval) * policy.Multiplier)
				if interval > policy.MaxInterval {
					interval = policy.MaxInterval
				}
				ticker.Reset(interval)
			}
		}
	}
}

// waitForChannel blocks until the data channel opens.
func (f *OfferFlow) waitForChannel(ctx context.Context, events chan flowEvent) (transfer.DataChannel, error) {
	if f.pendingChannel != nil {
		return f.pendingChannel, nil
	}
	timeout := f.clock.After(channelOpenTimeout)

	for {
		select {
		case <-ctx.Done():
			f.session.fail(FailureCancelled)
			return nil, ctx.Err()

		case <-timeout:
			f.session.fail(FailureChannelError)
			return nil, fmt.Errorf("handshake: channel did not open within %s", channelOpenTimeout)

		case event := <-events:
			if opened, ok := event.(eventChannelOpened); ok {
				return opened.channel, nil
			}
			if err := f.handleBackgroundEvent(event); err != nil {
				return nil, err
			}
		}
	}
}

// handleBackgroundEvent processes events that can arrive in any
// phase. Connection failure aborts the session; degradation is status
// only. A channel that opens earlier than the flow is ready for it is
// stashed.
func (f *OfferFlow) handleBackgroundEvent(event flowEvent) error {
	switch e := event.(type) {
	case eventChannelOpened:
		f.pendingChannel = e.channel
	case eventConnState:
		f.logger.Info("connection state changed",
			"session_key", f.session.Key,
			"state", e.state,
		)
		if e.state == ConnFailed {
			f.session.fail(FailureChannelError)
			return fmt.Errorf("handshake: connection failed")
		}
	}
	return nil
}

// failFor records Cancelled when the context caused the error,
// ChannelError (or the given reason) otherwise.
func (f *OfferFlow) failFor(ctx context.Context, reason FailureReason) {
	if ctx.Err() != nil {
		f.session.fail(FailureCancelled)
		return
	}
	f.session.fail(reason)
}
