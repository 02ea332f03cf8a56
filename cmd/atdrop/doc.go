// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Command atdrop sends a file directly to another AT Protocol user,
// or receives one. Signaling rides on records in each user's own PDS
// repository; the file itself moves peer to peer over a WebRTC data
// channel. The session key printed by send must reach the receiver
// out of band.
package main
