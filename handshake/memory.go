// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/atdrop/atdrop/transfer"
)

// NewMemoryTransportPair returns two linked in-process transports for
// tests: descriptions created on one side must be applied verbatim on
// the other, and once the handshake completes the data channel halves
// are connected in-memory pipes. The first return value is the
// offering side.
func NewMemoryTransportPair() (PeerTransport, PeerTransport) {
	link := &memoryLink{}
	return &memoryTransport{link: link, offerer: true},
		&memoryTransport{link: link, offerer: false}
}

type memoryTransport struct {
	link    *memoryLink
	offerer bool
}

func (t *memoryTransport) NewConnection(ctx context.Context) (PeerConnection, error) {
	connection := &memoryConnection{link: t.link, offerer: t.offerer}
	t.link.mu.Lock()
	defer t.link.mu.Unlock()
	if t.offerer {
		t.link.offerConn = connection
	} else {
		t.link.answerConn = connection
	}
	return connection, nil
}

// memoryLink is the shared state of one transport pair. The channel
// opens once the offerer has created its channel and applied the
// remote answer, and the answerer has produced that answer — the same
// point in the exchange where a real transport connects.
type memoryLink struct {
	mu         sync.Mutex
	offerConn  *memoryConnection
	answerConn *memoryConnection

	offerSDP      string
	answerSDP     string
	offerApplied  bool
	answerApplied bool
	label         string
	opened        bool
}

// maybeOpen fires the channel-opened callbacks when the exchange is
// complete. Called with link.mu held; callbacks run outside the lock.
func (l *memoryLink) maybeOpen() {
	if l.opened || l.label == "" || !l.offerApplied || !l.answerApplied {
		return
	}
	l.opened = true

	offerHalf := newMemoryChannel(l.label)
	answerHalf := newMemoryChannel(l.label)
	offerHalf.peer = answerHalf
	answerHalf.peer = offerHalf

	offerConn := l.offerConn
	answerConn := l.answerConn

	// The answering side learns about the channel first, so its
	// receiver callbacks are registered before the offering side can
	// send the first chunk.
	go func() {
		answerConn.fireStateChange(ConnConnected)
		offerConn.fireStateChange(ConnConnected)
		answerConn.fireChannelOpened(answerHalf)
		offerConn.fireChannelOpened(offerHalf)
	}()
}

type memoryConnection struct {
	link    *memoryLink
	offerer bool

	mu              sync.Mutex
	closed          bool
	onChannelOpened func(transfer.DataChannel)
	onStateChange   func(ConnState)
}

func (c *memoryConnection) CreateOffer(ctx context.Context) (string, error) {
	if !c.offerer {
		return "", fmt.Errorf("handshake: answering side cannot create an offer")
	}
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	c.link.offerSDP = "memory-offer-" + uuid.NewString()
	return c.link.offerSDP, nil
}

func (c *memoryConnection) CreateAnswer(ctx context.Context) (string, error) {
	if c.offerer {
		return "", fmt.Errorf("handshake: offering side cannot create an answer")
	}
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if !c.link.offerApplied {
		return "", fmt.Errorf("handshake: remote offer not applied")
	}
	c.link.answerSDP = "memory-answer-" + uuid.NewString()
	return c.link.answerSDP, nil
}

func (c *memoryConnection) ApplyRemoteOffer(sdp string) error {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if sdp == "" || sdp != c.link.offerSDP {
		return fmt.Errorf("handshake: remote offer does not match the published description")
	}
	c.link.offerApplied = true
	c.link.maybeOpen()
	return nil
}

func (c *memoryConnection) ApplyRemoteAnswer(sdp string) error {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if sdp == "" || sdp != c.link.answerSDP {
		return fmt.Errorf("handshake: remote answer does not match the published description")
	}
	c.link.answerApplied = true
	c.link.maybeOpen()
	return nil
}

func (c *memoryConnection) OpenChannel(label string) (transfer.DataChannel, error) {
	if !c.offerer {
		return nil, fmt.Errorf("handshake: answering side waits for the offered channel")
	}
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	c.link.label = label
	// The usable half arrives through OnChannelOpened; the
	// pre-negotiation handle is a placeholder, as with a real channel
	// before it opens.
	return newMemoryChannel(label), nil
}

func (c *memoryConnection) OnChannelOpened(f func(transfer.DataChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannelOpened = f
}

func (c *memoryConnection) OnStateChange(f func(ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = f
}

func (c *memoryConnection) fireChannelOpened(channel transfer.DataChannel) {
	c.mu.Lock()
	callback := c.onChannelOpened
	c.mu.Unlock()
	if callback != nil {
		callback(channel)
	}
}

func (c *memoryConnection) fireStateChange(state ConnState) {
	c.mu.Lock()
	callback := c.onStateChange
	c.mu.Unlock()
	if callback != nil {
		callback(state)
	}
}

func (c *memoryConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.fireStateChange(ConnClosed)
	return nil
}

func (c *memoryConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// memoryChannel is one half of an in-memory data channel pipe.
type memoryChannel struct {
	label string
	peer  *memoryChannel

	mu        sync.Mutex
	closed    bool
	onMessage func(transfer.Message)
	onClose   func()
	onLow     func()
	threshold uint64
}

func newMemoryChannel(label string) *memoryChannel {
	return &memoryChannel{label: label}
}

func (c *memoryChannel) SendBinary(data []byte) error {
	return c.send(transfer.Message{Data: append([]byte(nil), data...)})
}

func (c *memoryChannel) SendText(text string) error {
	return c.send(transfer.Message{Text: true, Data: []byte(text)})
}

func (c *memoryChannel) send(message transfer.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("handshake: channel %s is closed", c.label)
	}
	peer := c.peer
	c.mu.Unlock()

	if peer == nil {
		return fmt.Errorf("handshake: channel %s has no peer", c.label)
	}
	peer.deliver(message)
	return nil
}

func (c *memoryChannel) deliver(message transfer.Message) {
	c.mu.Lock()
	callback := c.onMessage
	c.mu.Unlock()
	if callback != nil {
		callback(message)
	}
}

// BufferedAmount is always zero: in-memory delivery is synchronous,
// so the outbound queue never accumulates.
func (c *memoryChannel) BufferedAmount() uint64 { return 0 }

func (c *memoryChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = threshold
}

func (c *memoryChannel) OnBufferedAmountLow(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLow = f
}

func (c *memoryChannel) OnMessage(f func(transfer.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = f
}

func (c *memoryChannel) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	onClose := c.onClose
	peer := c.peer
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	if peer != nil {
		peer.closeFromPeer()
	}
	return nil
}

func (c *memoryChannel) closeFromPeer() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}
