// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"testing"

	"github.com/atdrop/atdrop/transfer"
)

func TestWebRTCTransportDefaults(t *testing.T) {
	transport := NewWebRTCTransport(WebRTCConfig{Logger: testLogger})
	if len(transport.iceServers) != 1 {
		t.Fatalf("iceServers = %v", transport.iceServers)
	}
	if got := transport.iceServers[0].URLs[0]; got != DefaultSTUNServer {
		t.Errorf("STUN URL = %q, want %q", got, DefaultSTUNServer)
	}

	custom := NewWebRTCTransport(WebRTCConfig{STUNServers: []string{"stun:stun.local:3478"}, Logger: testLogger})
	if got := custom.iceServers[0].URLs[0]; got != "stun:stun.local:3478" {
		t.Errorf("STUN URL = %q", got)
	}
}

// Callback registration races against pion delivering channel and
// state events from its own goroutines; both must be safe under the
// race detector.
func TestWebRTCConnectionCallbackRaces(t *testing.T) {
	connection := &webrtcConnection{logger: testLogger}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			connection.OnStateChange(func(ConnState) {})
			connection.OnChannelOpened(func(transfer.DataChannel) {})
		}
	}()
	for i := 0; i < 200; i++ {
		connection.fireStateChange(ConnConnecting)
		connection.fireChannelOpened(nil)
	}
	<-done

	var gotState ConnState
	connection.OnStateChange(func(state ConnState) { gotState = state })
	connection.fireStateChange(ConnConnected)
	if gotState != ConnConnected {
		t.Errorf("state callback got %v, want %v", gotState, ConnConnected)
	}

	var gotChannel bool
	connection.OnChannelOpened(func(transfer.DataChannel) { gotChannel = true })
	connection.fireChannelOpened(nil)
	if !gotChannel {
		t.Error("channel callback not invoked")
	}
}
