// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling implements the offer/answer record protocol.
//
// Each side writes its session description into its OWN repository and
// reads the peer's description from the peer's repository; the record
// key is the session key shared out-of-band. Records are tagged with a
// $type discriminator and validated when read, so a stale or foreign
// record at the same key is rejected rather than half-parsed.
package signaling
