// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/atdrop/atdrop/transfer"
)

// DefaultSTUNServer is used when no STUN servers are configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// iceGatherTimeout bounds how long CreateOffer and CreateAnswer wait
// for candidate gathering to complete before giving up.
const iceGatherTimeout = 15 * time.Second

var _ PeerTransport = (*WebRTCTransport)(nil)

// WebRTCConfig configures the WebRTC transport.
type WebRTCConfig struct {
	// STUNServers lists STUN URLs for path discovery. Empty means
	// DefaultSTUNServer. Relays (TURN) are not supported.
	STUNServers []string
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// WebRTCTransport creates pion peer connections using vanilla ICE:
// every description is produced only after candidate gathering is
// exhaustively complete, so signaling needs exactly one record per
// direction.
type WebRTCTransport struct {
	iceServers []webrtc.ICEServer
	logger     *slog.Logger
}

// NewWebRTCTransport creates the production transport.
func NewWebRTCTransport(config WebRTCConfig) *WebRTCTransport {
	urls := config.STUNServers
	if len(urls) == 0 {
		urls = []string{DefaultSTUNServer}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCTransport{
		iceServers: []webrtc.ICEServer{{URLs: urls}},
		logger:     logger,
	}
}

// NewConnection implements PeerTransport.
func (t *WebRTCTransport) NewConnection(ctx context.Context) (PeerConnection, error) {
	// Loopback candidates make same-machine sessions work, which is
	// also what test environments have.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: t.iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("handshake: creating peer connection: %w", err)
	}

	connection := &webrtcConnection{
		pc:     pc,
		logger: t.logger,
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			t.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			return
		}
		connection.watchOpen(dc)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		connection.fireStateChange(mapConnState(state))
	})

	return connection, nil
}

// webrtcConnection adapts a pion PeerConnection to the PeerConnection
// capability.
type webrtcConnection struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	// mu guards the callback fields: pion invokes the data-channel and
	// state handlers from its own goroutines.
	mu              sync.Mutex
	onChannelOpened func(transfer.DataChannel)
	onStateChange   func(ConnState)
}

// CreateOffer implements PeerConnection.
func (c *webrtcConnection) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("handshake: creating offer: %w", err)
	}
	return c.finishLocalDescription(ctx, offer)
}

// CreateAnswer implements PeerConnection.
func (c *webrtcConnection) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("handshake: creating answer: %w", err)
	}
	return c.finishLocalDescription(ctx, answer)
}

// finishLocalDescription sets the local description and waits for ICE
// gathering to complete, returning the consolidated SDP.
func (c *webrtcConnection) finishLocalDescription(ctx context.Context, description webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("handshake: setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("handshake: ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("handshake: no local description after gathering")
	}
	return local.SDP, nil
}

// ApplyRemoteOffer implements PeerConnection.
func (c *webrtcConnection) ApplyRemoteOffer(sdp string) error {
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("handshake: applying remote offer: %w", err)
	}
	return nil
}

// ApplyRemoteAnswer implements PeerConnection.
func (c *webrtcConnection) ApplyRemoteAnswer(sdp string) error {
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("handshake: applying remote answer: %w", err)
	}
	return nil
}

// OpenChannel implements PeerConnection. The channel is ordered and
// reliable; unordered or lossy modes would break chunk reassembly.
func (c *webrtcConnection) OpenChannel(label string) (transfer.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("handshake: creating data channel %s: %w", label, err)
	}
	c.watchOpen(dc)
	return &webrtcChannel{dc: dc}, nil
}

// watchOpen delivers the channel to the opened callback once pion
// reports it open.
func (c *webrtcConnection) watchOpen(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		c.logger.Debug("data channel open", "label", dc.Label())
		c.fireChannelOpened(&webrtcChannel{dc: dc})
	})
}

// OnChannelOpened implements PeerConnection. Register before
// signaling starts.
func (c *webrtcConnection) OnChannelOpened(f func(transfer.DataChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannelOpened = f
}

// OnStateChange implements PeerConnection.
func (c *webrtcConnection) OnStateChange(f func(ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = f
}

func (c *webrtcConnection) fireChannelOpened(channel transfer.DataChannel) {
	c.mu.Lock()
	f := c.onChannelOpened
	c.mu.Unlock()
	if f != nil {
		f(channel)
	}
}

func (c *webrtcConnection) fireStateChange(state ConnState) {
	c.logger.Debug("connection state", "state", state)
	c.mu.Lock()
	f := c.onStateChange
	c.mu.Unlock()
	if f != nil {
		f(state)
	}
}

// Close implements PeerConnection.
func (c *webrtcConnection) Close() error {
	return c.pc.Close()
}

func mapConnState(state webrtc.PeerConnectionState) ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}

// webrtcChannel adapts a pion data channel to transfer.DataChannel.
// The channel is deliberately not detached: the transfer protocol
// needs the buffered-amount API, which only the callback-style
// channel exposes.
type webrtcChannel struct {
	dc *webrtc.DataChannel
}

func (c *webrtcChannel) SendBinary(data []byte) error { return c.dc.Send(data) }

func (c *webrtcChannel) SendText(text string) error { return c.dc.SendText(text) }

func (c *webrtcChannel) BufferedAmount() uint64 { return c.dc.BufferedAmount() }

func (c *webrtcChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.dc.SetBufferedAmountLowThreshold(threshold)
}

func (c *webrtcChannel) OnBufferedAmountLow(f func()) { c.dc.OnBufferedAmountLow(f) }

func (c *webrtcChannel) OnMessage(f func(transfer.Message)) {
	c.dc.OnMessage(func(message webrtc.DataChannelMessage) {
		f(transfer.Message{Text: message.IsString, Data: message.Data})
	})
}

func (c *webrtcChannel) OnClose(f func()) { c.dc.OnClose(f) }

func (c *webrtcChannel) Close() error { return c.dc.Close() }
