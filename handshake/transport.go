// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"

	"github.com/atdrop/atdrop/transfer"
)

// ChannelLabel is the data channel label both sides expect.
const ChannelLabel = "fileTransferChannel"

// ConnState is the coarse connection lifecycle the flows observe.
// Degradation (Disconnected) is reported to observers but does not by
// itself fail a session; only the channel closing mid-transfer does.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerTransport creates peer connections. Production uses WebRTC;
// tests use in-memory pairs.
type PeerTransport interface {
	NewConnection(ctx context.Context) (PeerConnection, error)
}

// PeerConnection is the capability the flows consume from the
// transport: produce one consolidated local description, apply the
// peer's, and surface the data channel.
//
// CreateOffer and CreateAnswer block until local path discovery is
// exhaustively complete, so the returned description is the whole
// signaling payload — candidates are never streamed incrementally.
type PeerConnection interface {
	// CreateOffer produces the complete local offer description. The
	// offering side must call OpenChannel first so the channel is
	// negotiated in the description.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer produces the complete local answer description.
	// Call after ApplyRemoteOffer.
	CreateAnswer(ctx context.Context) (string, error)

	// ApplyRemoteOffer installs the peer's offer description.
	ApplyRemoteOffer(sdp string) error

	// ApplyRemoteAnswer installs the peer's answer description.
	ApplyRemoteAnswer(sdp string) error

	// OpenChannel creates the outbound data channel (offering side).
	// The channel is not usable until OnChannelOpened fires for it.
	OpenChannel(label string) (transfer.DataChannel, error)

	// OnChannelOpened registers a callback invoked once the data
	// channel is open: the self-created channel on the offering side,
	// the peer-offered channel on the answering side.
	OnChannelOpened(f func(transfer.DataChannel))

	// OnStateChange registers a connection state observer.
	OnStateChange(f func(ConnState))

	// Close releases the connection and its channels.
	Close() error
}
