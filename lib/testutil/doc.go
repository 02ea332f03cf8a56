// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides helpers shared by tests: channel receive
// and close assertions with timeout safety valves, so flow tests
// cannot hang the suite when an event never arrives.
package testutil
