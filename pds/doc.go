// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package pds is a minimal XRPC client for an AT Protocol personal
// data server, covering exactly the surface atdrop needs: session
// creation (app-password login), authenticated record writes and
// deletes against the caller's own repository, unauthenticated record
// reads against any repository, and handle resolution.
//
// Client is unauthenticated and bound to one service URL; reads of a
// foreign repository construct a Client for that repository's PDS.
// Session wraps a Client with an access token and is the only type
// that can write. Server-reported failures surface as *XRPCError with
// the XRPC error name preserved, so callers can branch on conditions
// like RecordNotFound without string matching.
//
// There is no retry logic at this layer: transient-failure policy
// belongs to the handshake orchestrator, which knows whether a
// failure is mid-poll (swallow and retry) or during setup (surface).
package pds
