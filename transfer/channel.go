// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

// Message is one data channel message: binary chunks carry file
// bytes, text messages carry control JSON.
type Message struct {
	// Text reports whether the message arrived as a text message.
	Text bool
	// Data is the message payload. For text messages it is the UTF-8
	// bytes of the string.
	Data []byte
}

// DataChannel is the capability this package consumes from the
// transport layer: an ordered, reliable message channel with
// visibility into its outbound buffer. The handshake package's
// transports provide implementations; tests use in-memory fakes.
//
// Callback registration (OnBufferedAmountLow, OnMessage, OnClose)
// must happen before the peer starts sending; implementations are not
// required to replay earlier events.
type DataChannel interface {
	// SendBinary queues one binary message.
	SendBinary(data []byte) error

	// SendText queues one text message.
	SendText(text string) error

	// BufferedAmount returns the number of queued outbound bytes not
	// yet handed to the network.
	BufferedAmount() uint64

	// SetBufferedAmountLowThreshold arms the low-water callback: once
	// the buffered amount drains below the threshold, the function
	// registered with OnBufferedAmountLow fires.
	SetBufferedAmountLowThreshold(threshold uint64)

	// OnBufferedAmountLow registers the low-water callback.
	OnBufferedAmountLow(f func())

	// OnMessage registers the inbound message callback. Messages are
	// delivered in order, one at a time.
	OnMessage(f func(Message))

	// OnClose registers a callback invoked when the channel closes,
	// whether locally or by the peer.
	OnClose(f func())

	// Close closes the channel.
	Close() error
}
