// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer moves one file over an established data channel.
//
// The sender slices the file into fixed-size binary messages and
// paces itself against the channel's buffered amount; a JSON text
// message marks the end of the stream. The receiver accumulates
// chunks in arrival order and assembles them on the end marker, on
// channel close, or on a receive inactivity timeout — in the latter
// two cases the partial payload is still returned alongside the
// error, so callers can salvage what arrived.
package transfer
