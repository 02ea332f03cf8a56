// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake orchestrates one file-transfer session end to
// end: local description preparation, signaling record exchange,
// channel establishment, and the transfer itself.
//
// Each session is driven by a single flow goroutine. Transport
// callbacks never touch session state directly; they post typed
// events onto the session's event channel and the flow goroutine
// processes them one at a time, so overlapping callbacks cannot
// corrupt a session. One process may run an offering flow and an
// answering flow concurrently; they share nothing.
package handshake
