// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"log/slog"
	"sync"

	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/signaling"
	"github.com/atdrop/atdrop/transfer"
)

// Role distinguishes the two sides of a session.
type Role int

const (
	// RoleOffer is the sending side: it posts the offer and streams
	// the file.
	RoleOffer Role = iota
	// RoleAnswer is the receiving side: it answers the offer and
	// assembles the file.
	RoleAnswer
)

func (r Role) String() string {
	if r == RoleOffer {
		return "offer"
	}
	return "answer"
}

// SessionContext owns all per-session state. Every flow instance has
// its own; nothing is shared between sessions, so one process can run
// several concurrently.
//
// State mutation happens only on the flow goroutine. The mutex exists
// for readers on other goroutines (status display, tests).
type SessionContext struct {
	Key              ref.RecordKey
	SessionTimestamp string
	Role             Role
	LocalDID         ref.DID

	mu       sync.Mutex
	peerDID  ref.DID
	fileMeta signaling.FileMeta
	state    State
	reason   FailureReason

	onTransition func(from, to State)
	logger       *slog.Logger
}

func newSessionContext(role Role, localDID ref.DID, logger *slog.Logger) *SessionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionContext{
		Role:     role,
		LocalDID: localDID,
		state:    StateIdle,
		logger:   logger,
	}
}

// State returns the current state.
func (s *SessionContext) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason returns why the session failed, or FailureNone.
func (s *SessionContext) FailureReason() FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// PeerDID returns the resolved peer DID, zero until resolution.
func (s *SessionContext) PeerDID() ref.DID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerDID
}

// FileMeta returns the file metadata for the session: the declared
// metadata on the offering side, the offer's metadata (with defaults
// applied) on the answering side.
func (s *SessionContext) FileMeta() signaling.FileMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileMeta
}

// OnTransition registers a state observer. The callback runs on the
// flow goroutine; keep it fast. Register before the flow starts.
func (s *SessionContext) OnTransition(f func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransition = f
}

func (s *SessionContext) setPeerDID(did ref.DID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerDID = did
}

func (s *SessionContext) setFileMeta(meta signaling.FileMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileMeta = meta
}

// transition moves the session to a new state and notifies the
// observer. Transitions out of a terminal state are ignored, so a
// late event (a close racing a completed transfer) cannot resurrect a
// finished session.
func (s *SessionContext) transition(to State) {
	s.mu.Lock()
	from := s.state
	if from.terminal() || from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	observer := s.onTransition
	s.mu.Unlock()

	s.logger.Debug("session transition",
		"role", s.Role,
		"from", from,
		"to", to,
	)
	if observer != nil {
		observer(from, to)
	}
}

// fail moves the session to StateFailed with a reason. The first
// failure wins.
func (s *SessionContext) fail(reason FailureReason) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateFailed
	s.reason = reason
	observer := s.onTransition
	s.mu.Unlock()

	s.logger.Warn("session failed",
		"role", s.Role,
		"from", from,
		"reason", reason,
	)
	if observer != nil {
		observer(from, StateFailed)
	}
}

// flowEvent is a typed event posted by transport callbacks onto the
// session's event channel and consumed by the flow goroutine.
type flowEvent interface {
	isFlowEvent()
}

// eventChannelOpened reports that the transfer channel is open.
type eventChannelOpened struct {
	channel transfer.DataChannel
}

// eventConnState reports a connection state change.
type eventConnState struct {
	state ConnState
}

func (eventChannelOpened) isFlowEvent() {}
func (eventConnState) isFlowEvent()     {}

// postEvent delivers an event without blocking the transport's
// callback goroutine; the buffer is large enough for any legitimate
// event sequence, and a full queue means the flow has already stopped
// consuming.
func postEvent(events chan flowEvent, event flowEvent) {
	select {
	case events <- event:
	default:
	}
}
