// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

// State is the position of a session in the handshake lifecycle. Both
// roles move through the same states; the answering role skips the
// answer-polling states because its peer description arrives up
// front.
type State int

const (
	StateIdle State = iota
	StatePreparingLocalDescription
	StateLocalDescriptionReady
	StateSignalingPosted
	StateAwaitingPeerDescription
	StatePeerDescriptionApplied
	StateChannelOpen
	StateTransferring
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparingLocalDescription:
		return "preparing local description"
	case StateLocalDescriptionReady:
		return "local description ready"
	case StateSignalingPosted:
		return "signaling posted"
	case StateAwaitingPeerDescription:
		return "awaiting peer description"
	case StatePeerDescriptionApplied:
		return "peer description applied"
	case StateChannelOpen:
		return "channel open"
	case StateTransferring:
		return "transferring"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions can occur.
func (s State) terminal() bool {
	return s == StateComplete || s == StateFailed
}

// FailureReason classifies why a session reached StateFailed.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureSignalingPostFailed
	FailureAnswerTimeout
	FailureOfferNotFound
	FailureNotIntendedForViewer
	FailureSessionMismatch
	FailureIncompleteTransfer
	FailureTransferTimeout
	FailureChannelError
	FailureCancelled
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureSignalingPostFailed:
		return "signaling post failed"
	case FailureAnswerTimeout:
		return "timed out waiting for answer"
	case FailureOfferNotFound:
		return "offer not found"
	case FailureNotIntendedForViewer:
		return "offer intended for a different account"
	case FailureSessionMismatch:
		return "session mismatch"
	case FailureIncompleteTransfer:
		return "incomplete transfer"
	case FailureTransferTimeout:
		return "transfer timed out"
	case FailureChannelError:
		return "channel error"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
